package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/xlttj/prtrelay/pkg/cmd"
)

func main() {
	var options cmd.GlobalOptions

	parser := flags.NewParser(&options, flags.Default)
	parser.SubcommandsOptional = true
	parser.LongDescription = "Forwards local TCP ports to fixed remote host:port targets."

	run := &cmd.RunCommand{Global: &options}
	commands := []struct {
		name, short string
		data        interface{}
	}{
		{"run", "Forward every mapping until interrupted (default)", run},
		{"ui", "Interactive dashboard", &cmd.UICommand{Global: &options}},
		{"import", "Copy a mapping file into the store", &cmd.ImportCommand{Global: &options}},
		{"export", "Write the store as YAML", &cmd.ExportCommand{Global: &options}},
		{"prune", "Remove mappings whose remote is unreachable", &cmd.PruneCommand{Global: &options}},
		{"help", "Show help information", &cmd.HelpCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, "", c.data); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	// go-flags prints parse and command errors itself
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// No command given: run is the default
	if parser.Active == nil {
		if err := run.Execute(nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}
