package cmd

import (
	"fmt"

	"github.com/xlttj/prtrelay/pkg/config"
)

// ImportCommand copies a mapping file into the SQLite store
type ImportCommand struct {
	Global *GlobalOptions `no-flag:"true"`
	Args   struct {
		File string `positional-arg-name:"FILE" description:"Properties or YAML mapping file"`
	} `positional-args:"yes" required:"yes"`
}

// ImportResult summarizes an import
type ImportResult struct {
	Mappings int
	Projects int
	Skipped  []error
}

// Execute implements flags.Commander
func (c *ImportCommand) Execute(args []string) error {
	if err := c.Global.SetupLogging(""); err != nil {
		return err
	}
	store, err := c.Global.openSQLiteStore()
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := Import(store, c.Args.File)
	if err != nil {
		return err
	}
	for _, skipped := range result.Skipped {
		fmt.Printf("⚠️  Skipped: %v\n", skipped)
	}
	fmt.Printf("✅ Imported %d mapping(s) and %d project(s) into %s\n", result.Mappings, result.Projects, store.Path())
	return nil
}

// Import loads path and upserts its mappings and projects into store.
// Malformed entries are reported in the result and left out.
func Import(store *config.SQLiteConfigStore, path string) (*ImportResult, error) {
	loaded, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Skipped: loaded.Skipped}
	for _, m := range loaded.Mappings {
		if err := store.Put(m); err != nil {
			return result, err
		}
		result.Mappings++
	}
	for _, p := range loaded.Projects {
		if err := store.SaveProject(p.Name, p.Forwards); err != nil {
			return result, err
		}
		result.Projects++
	}
	return result, nil
}
