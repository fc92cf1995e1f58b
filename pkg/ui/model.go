package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/relay"
)

// Model represents the state of the UI
type Model struct {
	uiState UIState

	// Core components
	configStore config.ConfigStoreInterface
	forwarder   *relay.Forwarder
	width       int
	height      int

	// Central error message
	errorMsg string
	// Status/info message (non-error feedback)
	statusMsg string

	// Mappings table and the mappings behind its rows
	mappingsTable table.Model
	rowMappings   []config.Mapping

	// Filter state
	filterMode  bool            // Whether filtering is active
	filterInput textinput.Model // The search input component

	// Project selection
	projectSelector table.Model
}

// calculateColumnWidths returns column widths based on terminal width
func (m *Model) calculateColumnWidths() []table.Column {
	// Minimum widths for each column
	minWidths := map[string]int{
		ColPortLocal: 6,
		ColRemote:    20,
		ColStatus:    12,
		ColConns:     5,
		ColTraffic:   18,
	}

	// Calculate available width (subtract some padding for borders and spacing)
	availableWidth := max(m.width-10, 60)

	totalMinWidth := 0
	for _, width := range minWidths {
		totalMinWidth += width
	}

	// Most of the extra space goes to the remote target
	extraSpace := max(availableWidth-totalMinWidth, 0)
	finalWidths := make(map[string]int, len(minWidths))
	for col, minWidth := range minWidths {
		finalWidths[col] = minWidth
	}
	finalWidths[ColRemote] += extraSpace * 70 / 100
	finalWidths[ColTraffic] += extraSpace * 20 / 100

	return []table.Column{
		{Title: ColPortLocal, Width: finalWidths[ColPortLocal]},
		{Title: ColRemote, Width: finalWidths[ColRemote]},
		{Title: ColStatus, Width: finalWidths[ColStatus]},
		{Title: ColConns, Width: finalWidths[ColConns]},
		{Title: ColTraffic, Width: finalWidths[ColTraffic]},
	}
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color(ColorSelectedFg)).
		Background(lipgloss.Color(ColorSelectedBg)).
		Bold(false)
	return s
}

// NewModel creates the dashboard over an opened store. Listeners are managed
// through forwarder; the caller owns both and must call Cleanup on exit.
func NewModel(store config.ConfigStoreInterface, forwarder *relay.Forwarder) *Model {
	ti := textinput.New()
	ti.Placeholder = "Filter..."
	ti.CharLimit = 156
	ti.Width = 20

	m := &Model{
		uiState:     StatePortForwards,
		configStore: store,
		forwarder:   forwarder,
		width:       80, // Default width, will be updated on first WindowSizeMsg
		height:      24, // Default height, will be updated on first WindowSizeMsg
		filterInput: ti,
	}

	if skipped := store.Skipped(); len(skipped) > 0 {
		m.errorMsg = fmt.Sprintf("%d malformed mapping(s) skipped: %v", len(skipped), skipped[0])
	}

	m.mappingsTable = table.New(
		table.WithColumns(m.calculateColumnWidths()),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithStyles(tableStyles()),
	)
	m.refreshTable()
	return m
}

// Cleanup stops every listener
func (m *Model) Cleanup() {
	if m.forwarder != nil {
		m.forwarder.CleanupAll()
	}
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Init() tea.Cmd {
	return tick()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.mappingsTable.SetHeight(max(m.height-PortForwardsViewOffset, MinTableHeight))
		m.mappingsTable.SetColumns(m.calculateColumnWidths())
		m.filterInput.Width = max(m.width-4, 20)
		return m, nil

	case tickMsg:
		if m.uiState == StatePortForwards {
			m.refreshTable()
		}
		return m, tick()

	case tea.KeyMsg:
		// Global shortcuts that work in any state
		switch msg.String() {
		case "ctrl+c", ShortcutExit:
			return m, tea.Quit
		}

		switch m.uiState {
		case StatePortForwards:
			return m.updatePortForwards(msg)
		case StateProjectSelector:
			return m.updateProjectSelector(msg)
		}
	}

	return m, nil
}

// visibleMappings returns the mappings of the active project that match the filter
func (m *Model) visibleMappings() []config.Mapping {
	base := m.configStore.GetActiveProjectForwards()
	filterText := strings.ToLower(strings.TrimSpace(m.filterInput.Value()))
	if filterText == "" {
		return base
	}

	var filtered []config.Mapping
	for _, mapping := range base {
		if strings.Contains(strconv.Itoa(mapping.LocalPort), filterText) ||
			strings.Contains(strings.ToLower(mapping.Target()), filterText) {
			filtered = append(filtered, mapping)
		}
	}
	return filtered
}

// handleConfigReload processes Ctrl+R reload request
func (m *Model) handleConfigReload() (tea.Model, tea.Cmd) {
	m.errorMsg = ""
	m.statusMsg = ""

	oldMappings := m.configStore.GetActiveProjectForwards()
	if err := m.configStore.Reload(); err != nil {
		m.errorMsg = fmt.Sprintf("Config reload failed: %v", err)
		return m, nil
	}
	newMappings := m.configStore.GetActiveProjectForwards()

	// New mappings are not started; the user controls them from the table
	result := m.forwarder.ReloadSync(oldMappings, newMappings, false)
	m.refreshTable()

	if len(result.Errors) > 0 {
		m.errorMsg = formatReloadSummary(result)
	} else {
		m.statusMsg = formatReloadSummary(result)
	}
	return m, nil
}

// formatReloadSummary creates user-friendly reload summary
func formatReloadSummary(result *relay.ReloadResult) string {
	if len(result.Errors) > 0 {
		ports := make([]int, 0, len(result.Errors))
		for port := range result.Errors {
			ports = append(ports, port)
		}
		sort.Ints(ports)
		errorMsgs := make([]string, 0, len(ports))
		for _, port := range ports {
			errorMsgs = append(errorMsgs, fmt.Sprintf(":%d: %v", port, result.Errors[port]))
		}
		return fmt.Sprintf("Reload errors: %s", strings.Join(errorMsgs, "; "))
	}

	parts := []string{}
	if len(result.Stopped) > 0 {
		parts = append(parts, fmt.Sprintf("%d stopped", len(result.Stopped)))
	}
	if len(result.Started) > 0 {
		parts = append(parts, fmt.Sprintf("%d started", len(result.Started)))
	}
	if len(result.Updated) > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", len(result.Updated)))
	}
	if len(parts) == 0 {
		return "Config reloaded: no changes needed"
	}
	return fmt.Sprintf("Config reloaded: %s", strings.Join(parts, ", "))
}
