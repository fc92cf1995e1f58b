package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/logging"
)

// updateProjectSelector handles updates in the project selector view
func (m *Model) updateProjectSelector(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.uiState = StatePortForwards
		m.errorMsg = ""
		m.statusMsg = ""
		return m, nil
	case "enter":
		return m.handleProjectSelection()
	default:
		m.projectSelector, _ = m.projectSelector.Update(msg)
		return m, nil
	}
}

// initializeProjectSelector initializes the project selector table
func (m *Model) initializeProjectSelector() {
	projects := m.configStore.GetProjects()
	activeProjectName := m.configStore.GetActiveProjectName()

	columns := []table.Column{
		{Title: "PROJECT", Width: 30},
		{Title: "MAPPINGS", Width: 15},
		{Title: "ACTIVE", Width: 10},
	}

	rows := make([]table.Row, len(projects)+1) // +1 for "All Projects" option

	allStatus := ""
	if activeProjectName == "" {
		allStatus = "●"
	}
	rows[0] = table.Row{"All Projects", strconv.Itoa(m.configStore.Len()), allStatus}

	for i, project := range projects {
		activeStatus := ""
		if project.Name == activeProjectName {
			activeStatus = "●"
		}
		rows[i+1] = table.Row{project.Name, strconv.Itoa(len(project.Forwards)), activeStatus}
	}

	m.projectSelector = table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(max(min(len(rows)+2, m.height-6), MinTableHeight)),
		table.WithStyles(tableStyles()),
	)
}

// handleProjectSelection stops every listener and starts the selected project
func (m *Model) handleProjectSelection() (tea.Model, tea.Cmd) {
	selectedIdx := m.projectSelector.Cursor()

	m.forwarder.CleanupAll()

	if selectedIdx == 0 {
		m.configStore.ClearActiveProject()
		m.statusMsg = "Showing all mappings (all listeners stopped)"
	} else {
		projects := m.configStore.GetProjects()
		if selectedIdx-1 < len(projects) {
			selected := projects[selectedIdx-1]
			if err := m.configStore.SetActiveProject(selected.Name); err != nil {
				m.errorMsg = fmt.Sprintf("Failed to set active project: %v", err)
			} else {
				m.startProject(selected)
			}
		}
	}

	m.filterInput.SetValue("")
	m.refreshTable()
	m.uiState = StatePortForwards
	return m, nil
}

// startProject starts every mapping of the now active project
func (m *Model) startProject(project config.Project) {
	mappings := m.configStore.GetActiveProjectForwards()
	logging.LogDebug("Project '%s': Starting %d mapping(s)", project.Name, len(mappings))

	errs := m.forwarder.StartAll(mappings)
	started := len(mappings) - len(errs)
	if len(errs) == 0 {
		m.statusMsg = fmt.Sprintf("Project '%s' activated, started %d mapping(s)", project.Name, started)
		return
	}
	for _, mapping := range mappings {
		if err, failed := errs[mapping.LocalPort]; failed {
			logging.LogError("Project '%s': %v", project.Name, err)
			m.errorMsg = fmt.Sprintf("Project '%s' activated, started %d/%d mapping(s). Errors: %v",
				project.Name, started, len(mappings), err)
			break
		}
	}
}

// enterProjectSelector switches to project selector view
func (m *Model) enterProjectSelector() (tea.Model, tea.Cmd) {
	m.uiState = StateProjectSelector
	m.errorMsg = ""
	m.statusMsg = ""
	m.initializeProjectSelector()
	return m, nil
}
