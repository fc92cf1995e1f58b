package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/xlttj/prtrelay/pkg/config"
)

// ExportCommand writes the SQLite store as a YAML mapping file
type ExportCommand struct {
	Global *GlobalOptions `no-flag:"true"`
	Output string         `short:"o" long:"output" description:"Output file (defaults to stdout)"`
}

// Execute implements flags.Commander
func (c *ExportCommand) Execute(args []string) error {
	if err := c.Global.SetupLogging(""); err != nil {
		return err
	}
	store, err := c.Global.openSQLiteStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Output == "" {
		return Export(store, os.Stdout)
	}

	f, err := os.Create(c.Output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := Export(store, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "✅ Configuration written to %s\n", c.Output)
	return nil
}

// Export renders every mapping and project of store as YAML
func Export(store config.ConfigStoreInterface, w io.Writer) error {
	data, err := config.MarshalYAML(store.GetAll(), store.GetProjects())
	if err != nil {
		return fmt.Errorf("failed to marshal yaml: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write yaml: %w", err)
	}
	return nil
}
