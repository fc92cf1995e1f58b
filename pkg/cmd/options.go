package cmd

import (
	"fmt"
	"time"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/logging"
	"github.com/xlttj/prtrelay/pkg/relay"
)

// GlobalOptions are accepted before any command
type GlobalOptions struct {
	Config      string        `short:"c" long:"config" env:"PRTRELAY_CONFIG" description:"Mapping file (.properties or .yaml); the SQLite store is used when empty"`
	DB          string        `long:"db" env:"PRTRELAY_DB" description:"SQLite store path (default ~/.prtrelay/prtrelay.db)"`
	Bind        string        `short:"b" long:"bind" env:"PRTRELAY_BIND" description:"Interface to listen on (default all interfaces)"`
	DialTimeout time.Duration `long:"dial-timeout" env:"PRTRELAY_DIAL_TIMEOUT" description:"Remote connect timeout, e.g. 5s (default platform timeout)"`
	BufferSize  int           `long:"buffer-size" env:"PRTRELAY_BUFFER_SIZE" default:"4096" description:"Copy buffer size per direction in bytes"`
	Project     string        `short:"p" long:"project" env:"PRTRELAY_PROJECT" description:"Only forward the mappings of this project"`
	LogFile     string        `long:"log-file" env:"PRTRELAY_LOG_FILE" description:"Append log lines to this file instead of stderr"`
	Debug       bool          `short:"d" long:"debug" env:"PRTRELAY_DEBUG" description:"Enable debug logging"`
}

// RelayOptions converts the listener related flags
func (o *GlobalOptions) RelayOptions() relay.Options {
	return relay.Options{
		BindHost:    o.Bind,
		DialTimeout: o.DialTimeout,
		BufferSize:  o.BufferSize,
	}
}

// SetupLogging applies --debug and --log-file. fallback is used when no
// log file was requested; an empty fallback keeps stderr.
func (o *GlobalOptions) SetupLogging(fallback string) error {
	logging.SetDebug(o.Debug)
	path := o.LogFile
	if path == "" {
		path = fallback
	}
	if path == "" {
		return nil
	}
	return logging.SetOutputFile(path)
}

// OpenStore opens the mapping source selected by --config / --db and applies
// --project when set.
func (o *GlobalOptions) OpenStore() (config.ConfigStoreInterface, error) {
	store, err := config.NewConfigStore(o.Config, o.DB)
	if err != nil {
		return nil, err
	}
	if o.Project != "" {
		if err := store.SetActiveProject(o.Project); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

// openSQLiteStore opens the database for the commands that edit it
func (o *GlobalOptions) openSQLiteStore() (*config.SQLiteConfigStore, error) {
	if o.DB != "" {
		return config.NewSQLiteConfigStoreAt(o.DB)
	}
	store, err := config.NewSQLiteConfigStore()
	if err != nil {
		return nil, fmt.Errorf("error opening config store: %w", err)
	}
	return store, nil
}
