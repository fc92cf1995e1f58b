package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the current model state
func (m *Model) View() string {
	switch m.uiState {
	case StatePortForwards:
		return m.viewPortForwards()
	case StateProjectSelector:
		return m.renderProjectSelector()
	}
	return "Unknown state"
}

// viewPortForwards renders the mapping list view
func (m *Model) viewPortForwards() string {
	titleText := "Mappings - All Projects"
	if activeProject := m.configStore.GetActiveProjectName(); activeProject != "" {
		titleText = fmt.Sprintf("Mappings - Project: %s", activeProject)
	}
	title := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorTitle)).Bold(true).Render(titleText)

	help := "Space: Start/Stop | A: Start All | S: Stop All | /: Filter | Ctrl+R: Reload | Ctrl+P: Projects | Q: Quit"
	if m.width < 80 {
		help = "Space:Toggle | A:All | S:Stop | /:Filter | Ctrl+R | Ctrl+P | Q:Quit"
	}
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHelp))
	helpText := helpStyle.Render(help)

	tableView := lipgloss.PlaceHorizontal(m.width, lipgloss.Left, m.mappingsTable.View())

	// Always reserve space for the filter input to prevent layout shift
	var filterView string
	switch {
	case m.filterMode:
		filterStyle := lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color(ColorBorder)).
			Padding(0, 1)
		filterView = filterStyle.Render("Filter: " + m.filterInput.View())
	case m.filterInput.Value() != "":
		filterStyle := lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("8")).
			Foreground(lipgloss.Color("8")).
			Padding(0, 1)
		filterView = filterStyle.Render(fmt.Sprintf("Filter: %s (Press / to edit, Esc to clear)", m.filterInput.Value()))
	default:
		placeholderStyle := lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color(ColorBorder)).
			Foreground(lipgloss.Color(ColorBorder)).
			Padding(0, 1)
		filterView = placeholderStyle.Render("Press / to filter...")
	}

	top := title
	if m.width >= 80 {
		if spacing := m.width - lipgloss.Width(title) - lipgloss.Width(helpText); spacing > 0 {
			top = lipgloss.JoinHorizontal(lipgloss.Left, title, strings.Repeat(" ", spacing), helpText)
		}
	}

	sections := []string{top, "", filterView, tableView}
	if len(m.rowMappings) == 0 {
		sections = append(sections, helpStyle.Render("No mappings. Use --config FILE or `prtrelay import FILE`."))
	}
	if m.errorMsg != "" {
		errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError))
		sections = append(sections, errorStyle.Render(fmt.Sprintf("ERROR: %s", m.errorMsg)))
	} else if m.statusMsg != "" {
		statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorStatus))
		sections = append(sections, statusStyle.Render(m.statusMsg))
	}
	if m.width < 80 {
		sections = append(sections, helpText)
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
