package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// HelpCommand prints the application overview
type HelpCommand struct{}

// Execute implements flags.Commander
func (c *HelpCommand) Execute(args []string) error {
	ShowMainHelp(os.Stdout)
	return nil
}

// ShowMainHelp writes the main application help to w
func ShowMainHelp(w io.Writer) {
	programName := filepath.Base(os.Args[0])
	fmt.Fprintf(w, `prtrelay - TCP Port Forwarding Relay

Listens on local ports and forwards every accepted connection, byte for byte,
to a fixed remote host:port.

Usage:
  %s [options] [command]

Available Commands:
  run      Forward every mapping until interrupted (default)
  ui       Interactive dashboard to start/stop mappings
  import   Copy a .properties or .yaml mapping file into the store
  export   Write the store as a YAML mapping file
  prune    Remove mappings whose remote no longer accepts connections
  help     Show help information

Options:
  -c, --config FILE     Mapping file; the SQLite store is used when empty
      --db PATH         SQLite store (default ~/.prtrelay/prtrelay.db)
  -b, --bind HOST       Interface to listen on (default all interfaces)
      --dial-timeout D  Remote connect timeout (default platform timeout)
      --buffer-size N   Copy buffer per direction (default 4096)
  -p, --project NAME    Only forward the mappings of this project
      --log-file FILE   Append log lines to FILE instead of stderr
  -d, --debug           Enable debug logging
  -h, --help            Show help information

Mapping files:
  9000=localhost:9001           (.properties)
  mappings:                     (.yaml)
    "9000": localhost:9001
  projects:
    - name: dev
      forwards: [9000]

Signals:
  SIGINT/SIGTERM stop all listeners, SIGHUP reloads the mapping source.

Examples:
  %s -c proxy.properties                 Forward the mappings of a file
  %s import proxy.properties             Store the mappings in the database
  %s -p dev                              Forward the dev project from the database
  %s ui                                  Start the interactive dashboard
  %s prune -y                            Remove mappings with dead remotes

For more information about a specific command, use:
  %s <command> --help
`, programName, programName, programName, programName, programName, programName, programName)
}
