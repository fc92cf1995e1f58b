package ui

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/xlttj/prtrelay/pkg/logging"
	"github.com/xlttj/prtrelay/pkg/relay"
)

// updatePortForwards handles updates for the StatePortForwards
func (m *Model) updatePortForwards(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.filterMode {
		switch msg.String() {
		case "esc":
			// Exit filter mode and drop the filter
			m.filterMode = false
			m.filterInput.Blur()
			m.filterInput.SetValue("")
			m.refreshTable()
			m.mappingsTable.Focus()
			return m, nil
		case "enter":
			// Exit filter mode but keep filter applied
			m.filterMode = false
			m.filterInput.Blur()
			m.mappingsTable.Focus()
			return m, nil
		default:
			m.filterInput, cmd = m.filterInput.Update(msg)
			m.refreshTable()
			return m, cmd
		}
	}

	switch msg.String() {
	case "/":
		m.errorMsg = ""
		m.statusMsg = ""
		m.filterMode = true
		m.filterInput.Focus()
		m.mappingsTable.Blur()
		return m, nil
	case "q":
		return m, tea.Quit
	case "esc":
		// Clear an applied filter
		if m.filterInput.Value() != "" {
			m.filterInput.SetValue("")
			m.refreshTable()
		}
		return m, nil
	case " ":
		m.errorMsg = ""
		m.statusMsg = ""
		return m.toggleSelected()
	case ShortcutStartAll:
		m.errorMsg = ""
		m.statusMsg = ""
		return m.startVisible()
	case ShortcutStopAll:
		m.errorMsg = ""
		m.statusMsg = ""
		return m.stopVisible()
	case ShortcutReloadConfig:
		return m.handleConfigReload()
	case ShortcutProjects:
		return m.enterProjectSelector()
	default:
		m.mappingsTable, cmd = m.mappingsTable.Update(msg)
		return m, cmd
	}
}

// toggleSelected starts or stops the listener of the selected mapping
func (m *Model) toggleSelected() (tea.Model, tea.Cmd) {
	mapping, err := m.selectedMapping()
	if err != nil {
		m.errorMsg = fmt.Sprintf("Cannot toggle: %v", err)
		return m, nil
	}

	if m.forwarder.IsRunning(mapping.LocalPort) {
		if err := m.forwarder.Stop(mapping.LocalPort); err != nil {
			logging.LogError("Error stopping %s: %v", mapping, err)
			m.errorMsg = fmt.Sprintf("Error stopping :%d: %v", mapping.LocalPort, err)
		} else {
			m.statusMsg = fmt.Sprintf("Stopped :%d", mapping.LocalPort)
		}
		m.refreshTable()
		return m, nil
	}

	if err := m.forwarder.Start(mapping); err != nil {
		if errors.Is(err, relay.ErrBind) || errors.Is(err, relay.ErrPortReserved) {
			m.errorMsg = fmt.Sprintf("Cannot start :%d: %v", mapping.LocalPort, err)
		} else {
			m.errorMsg = fmt.Sprintf("Error starting :%d: %v", mapping.LocalPort, err)
		}
	} else {
		m.statusMsg = fmt.Sprintf("Forwarding :%d to %s", mapping.LocalPort, mapping.Target())
	}
	m.refreshTable()
	return m, nil
}

// startVisible starts every mapping currently shown in the table
func (m *Model) startVisible() (tea.Model, tea.Cmd) {
	mappings := m.visibleMappings()
	errs := m.forwarder.StartAll(mappings)
	if len(errs) > 0 {
		for _, mapping := range mappings {
			if err, failed := errs[mapping.LocalPort]; failed {
				m.errorMsg = fmt.Sprintf("Started %d/%d mappings. First error: %v", len(mappings)-len(errs), len(mappings), err)
				break
			}
		}
	} else {
		m.statusMsg = fmt.Sprintf("Started %d mapping(s)", len(mappings))
	}
	m.refreshTable()
	return m, nil
}

// stopVisible stops every mapping currently shown in the table
func (m *Model) stopVisible() (tea.Model, tea.Cmd) {
	stopped := 0
	for _, mapping := range m.visibleMappings() {
		if !m.forwarder.IsRunning(mapping.LocalPort) {
			continue
		}
		if err := m.forwarder.Stop(mapping.LocalPort); err != nil {
			logging.LogError("Error stopping %s: %v", mapping, err)
			continue
		}
		stopped++
	}
	m.statusMsg = fmt.Sprintf("Stopped %d mapping(s)", stopped)
	m.refreshTable()
	return m, nil
}
