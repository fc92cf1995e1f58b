package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/logging"
	"github.com/xlttj/prtrelay/pkg/relay"
)

// RunCommand forwards every configured mapping until interrupted
type RunCommand struct {
	Global *GlobalOptions `no-flag:"true"`
}

// Execute implements flags.Commander
func (c *RunCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, c.Global)
}

// Run loads the mapping set, starts one listener per mapping and serves until
// ctx is cancelled. SIGHUP re-reads the mapping source.
func Run(ctx context.Context, opts *GlobalOptions) error {
	if err := opts.SetupLogging(""); err != nil {
		return err
	}
	defer logging.Close()

	store, err := opts.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	mappings := store.GetActiveProjectForwards()
	if name := store.GetActiveProjectName(); name != "" {
		logging.LogInfo("Project %s: %d mapping(s)", name, len(mappings))
	}
	forwarder := relay.NewForwarder(opts.RelayOptions())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	reloadCtx, cancelReload := context.WithCancel(ctx)
	reloadDone := make(chan struct{})
	go func() {
		defer close(reloadDone)
		current := mappings
		for {
			select {
			case <-reloadCtx.Done():
				return
			case <-hup:
				current = applyReload(store, forwarder, current)
			}
		}
	}()

	err = forwarder.Run(ctx, mappings)
	cancelReload()
	<-reloadDone
	// A reload racing with shutdown may have started listeners
	forwarder.CleanupAll()
	return err
}

// applyReload re-reads the store and syncs the forwarder with it. The
// returned set is what is being forwarded afterwards.
func applyReload(store config.ConfigStoreInterface, forwarder *relay.Forwarder, current []config.Mapping) []config.Mapping {
	logging.LogInfo("Reloading mappings")
	if err := store.Reload(); err != nil {
		logging.LogError("%v", err)
		return current
	}
	next := store.GetActiveProjectForwards()

	result := forwarder.ReloadSync(current, next, true)
	for port, err := range result.Errors {
		logging.LogError("Reload: port %d: %v", port, err)
	}
	logging.LogInfo("Reload complete: %d started, %d stopped, %d updated, %d error(s)",
		len(result.Started), len(result.Stopped), len(result.Updated), len(result.Errors))
	return next
}
