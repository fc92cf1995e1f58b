package ui

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/relay"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// newTestModel builds a model over a YAML file with two mappings and a
// project containing the second one.
func newTestModel(t *testing.T) (*Model, []int) {
	t.Helper()
	ports := []int{freePort(t), freePort(t)}
	if ports[0] > ports[1] {
		ports[0], ports[1] = ports[1], ports[0]
	}

	content := fmt.Sprintf(`mappings:
  "%d": localhost:9001
  "%d": db.internal:5432
projects:
  - name: db
    forwards: [%d]
`, ports[0], ports[1], ports[1])
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := config.NewFileConfigStore(path)
	require.NoError(t, err)
	forwarder := relay.NewForwarder(relay.Options{BindHost: "127.0.0.1"})

	m := NewModel(store, forwarder)
	t.Cleanup(m.Cleanup)
	return m, ports
}

func press(m *Model, msg tea.KeyMsg) *Model {
	next, _ := m.Update(msg)
	return next.(*Model)
}

func TestNewModelRows(t *testing.T) {
	m, ports := newTestModel(t)

	rows := m.mappingsTable.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, fmt.Sprint(ports[0]), rows[0][0])
	assert.Equal(t, "localhost:9001", rows[0][1])
	assert.Equal(t, StatusStopped, rows[0][2])
	assert.Equal(t, "db.internal:5432", rows[1][1])
	assert.Contains(t, m.View(), "Mappings - All Projects")
}

func TestToggleStartsAndStops(t *testing.T) {
	m, ports := newTestModel(t)

	m = press(m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Empty(t, m.errorMsg)
	assert.True(t, m.forwarder.IsRunning(ports[0]))
	assert.Equal(t, StatusListening, m.mappingsTable.Rows()[0][2])
	assert.Equal(t, "0", m.mappingsTable.Rows()[0][3])

	m = press(m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.False(t, m.forwarder.IsRunning(ports[0]))
	assert.Equal(t, StatusStopped, m.mappingsTable.Rows()[0][2])
}

func TestToggleBindError(t *testing.T) {
	m, ports := newTestModel(t)

	occupied, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", ports[0]))
	require.NoError(t, err)
	defer occupied.Close()

	m = press(m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Contains(t, m.errorMsg, "Cannot start")
	assert.Equal(t, StatusBindError, m.mappingsTable.Rows()[0][2])
}

func TestStartAndStopAll(t *testing.T) {
	m, ports := newTestModel(t)

	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	assert.Empty(t, m.errorMsg)
	for _, port := range ports {
		assert.True(t, m.forwarder.IsRunning(port))
	}

	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	assert.Equal(t, "Stopped 2 mapping(s)", m.statusMsg)
	assert.Empty(t, m.forwarder.Running())
}

func TestFilter(t *testing.T) {
	m, _ := newTestModel(t)

	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	require.True(t, m.filterMode)
	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("db.int")})
	require.Len(t, m.rowMappings, 1)
	assert.Equal(t, "db.internal", m.rowMappings[0].RemoteHost)

	m = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.filterMode)
	assert.Len(t, m.rowMappings, 2)
}

func TestProjectSelection(t *testing.T) {
	m, ports := newTestModel(t)

	m = press(m, tea.KeyMsg{Type: tea.KeyCtrlP})
	require.Equal(t, StateProjectSelector, m.uiState)
	assert.Contains(t, m.View(), "Project Selector")

	m = press(m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Contains(t, m.View(), "db.internal:5432")
	m = press(m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, StatePortForwards, m.uiState)
	assert.Equal(t, "db", m.configStore.GetActiveProjectName())
	assert.True(t, m.forwarder.IsRunning(ports[1]))
	assert.False(t, m.forwarder.IsRunning(ports[0]))
	require.Len(t, m.rowMappings, 1)
	assert.Contains(t, m.View(), "Project: db")
}

func TestFormatReloadSummary(t *testing.T) {
	assert.Equal(t, "Config reloaded: no changes needed", formatReloadSummary(&relay.ReloadResult{}))
	assert.Equal(t, "Config reloaded: 1 stopped, 1 started, 1 updated",
		formatReloadSummary(&relay.ReloadResult{Stopped: []int{1}, Started: []int{1}, Updated: []int{1}}))
	assert.Equal(t, "Reload errors: :2: boom",
		formatReloadSummary(&relay.ReloadResult{Errors: map[int]error{2: fmt.Errorf("boom")}}))
}
