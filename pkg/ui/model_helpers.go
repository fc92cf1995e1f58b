package ui

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/dustin/go-humanize"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/relay"
)

// statusFor derives the display status of a mapping from the forwarder
func (m *Model) statusFor(mapping config.Mapping) string {
	lastErr := m.forwarder.LastError(mapping.LocalPort)
	if m.forwarder.IsRunning(mapping.LocalPort) {
		if lastErr != nil {
			return StatusNotAccept
		}
		return StatusListening
	}
	if errors.Is(lastErr, relay.ErrBind) {
		return StatusBindError
	}
	return StatusStopped
}

// generateRows converts mappings to table rows
func (m *Model) generateRows(mappings []config.Mapping) []table.Row {
	rows := make([]table.Row, 0, len(mappings))
	for _, mapping := range mappings {
		conns, traffic := "", ""
		if m.forwarder.IsRunning(mapping.LocalPort) {
			sent, received := m.forwarder.Traffic(mapping.LocalPort)
			conns = strconv.Itoa(m.forwarder.ActiveConnections(mapping.LocalPort))
			traffic = fmt.Sprintf("↑%s ↓%s", humanize.Bytes(uint64(sent)), humanize.Bytes(uint64(received)))
		}
		rows = append(rows, table.Row{
			strconv.Itoa(mapping.LocalPort),
			mapping.Target(),
			m.statusFor(mapping),
			conns,
			traffic,
		})
	}
	return rows
}

// refreshTable rebuilds the rows from the store, active project and filter
func (m *Model) refreshTable() {
	m.rowMappings = m.visibleMappings()
	m.mappingsTable.SetRows(m.generateRows(m.rowMappings))
	if cursor := m.mappingsTable.Cursor(); cursor >= len(m.rowMappings) && len(m.rowMappings) > 0 {
		m.mappingsTable.SetCursor(len(m.rowMappings) - 1)
	}
}

// selectedMapping returns the mapping under the table cursor
func (m *Model) selectedMapping() (config.Mapping, error) {
	selectedIdx := m.mappingsTable.Cursor()
	if selectedIdx < 0 || selectedIdx >= len(m.rowMappings) {
		return config.Mapping{}, fmt.Errorf("invalid table selection")
	}
	return m.rowMappings[selectedIdx], nil
}
