package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/xlttj/prtrelay/pkg/logging"
	"github.com/xlttj/prtrelay/pkg/relay"
	"github.com/xlttj/prtrelay/pkg/ui"
)

// uiLogFile receives log lines while the terminal is owned by the dashboard
const uiLogFile = "prtrelay.log"

// UICommand runs the interactive dashboard
type UICommand struct {
	Global *GlobalOptions `no-flag:"true"`
}

// Execute implements flags.Commander
func (c *UICommand) Execute(args []string) error {
	if err := c.Global.SetupLogging(uiLogFile); err != nil {
		return err
	}
	defer logging.Close()

	store, err := c.Global.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	forwarder := relay.NewForwarder(c.Global.RelayOptions())
	if store.GetActiveProjectName() != "" {
		for port, err := range forwarder.StartAll(store.GetActiveProjectForwards()) {
			logging.LogError("Port %d: %v", port, err)
		}
	}

	model := ui.NewModel(store, forwarder)
	defer model.Cleanup()

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}
