package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderProjectSelector renders the project selector with a preview of the
// highlighted project's mappings
func (m *Model) renderProjectSelector() string {
	var b strings.Builder

	titleStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorTitle)).
		Bold(true).
		Padding(0, 1)
	b.WriteString(titleStyle.Render("📁 Project Selector"))
	b.WriteString("\n\n")

	current := m.configStore.GetActiveProjectName()
	if current == "" {
		current = "All Projects"
	}
	b.WriteString(fmt.Sprintf("Current: %s\n\n", current))

	b.WriteString(m.projectSelector.View())
	b.WriteString("\n\n")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHelp))
	if preview := m.projectPreview(); preview != "" {
		b.WriteString(helpStyle.Render(preview))
		b.WriteString("\n\n")
	}
	b.WriteString(helpStyle.Render(ActionProjectSelector))
	b.WriteString("\n")

	if m.errorMsg != "" {
		errorStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)).
			Bold(true)
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %s", m.errorMsg)))
		b.WriteString("\n")
	}

	return b.String()
}

// projectPreview lists the mappings of the highlighted project
func (m *Model) projectPreview() string {
	idx := m.projectSelector.Cursor() - 1
	projects := m.configStore.GetProjects()
	if idx < 0 || idx >= len(projects) {
		return ""
	}

	lines := make([]string, 0, len(projects[idx].Forwards))
	for _, port := range projects[idx].Forwards {
		if mapping, ok := m.configStore.Get(port); ok {
			lines = append(lines, "  "+mapping.String())
		}
	}
	return strings.Join(lines, "\n")
}
