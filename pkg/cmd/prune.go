package cmd

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/manifoldco/promptui"
	"golang.org/x/sync/errgroup"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/logging"
)

const maxConcurrentProbes = 16

// PruneCommand removes stored mappings whose remote no longer accepts connections
type PruneCommand struct {
	Global    *GlobalOptions `no-flag:"true"`
	Timeout   time.Duration  `short:"t" long:"timeout" default:"3s" description:"Connect timeout per remote"`
	AcceptAll bool           `short:"y" description:"Delete without prompting"`
	Verbose   bool           `short:"v" description:"Verbose output"`
}

// Unreachable is a mapping whose remote could not be connected to
type Unreachable struct {
	Mapping config.Mapping
	Err     error
}

// Execute implements flags.Commander
func (c *PruneCommand) Execute(args []string) error {
	if err := c.Global.SetupLogging(""); err != nil {
		return err
	}
	store, err := c.Global.openSQLiteStore()
	if err != nil {
		return err
	}
	defer store.Close()

	mappings := store.GetAll()
	if c.Verbose {
		fmt.Printf("Probing %d remote(s) with a %v timeout\n", len(mappings), c.Timeout)
	}

	stale := Probe(context.Background(), mappings, c.Timeout)
	if len(stale) == 0 {
		fmt.Printf("✅ No unreachable remotes to remove.\n")
		return nil
	}
	fmt.Printf("Found %d unreachable remote(s):\n", len(stale))
	for _, s := range stale {
		if c.Verbose {
			fmt.Printf("  - %s (%v)\n", s.Mapping, s.Err)
		} else {
			fmt.Printf("  - %s\n", s.Mapping)
		}
	}

	if !c.AcceptAll {
		prompt := promptui.Prompt{
			Label:     "Delete these mappings from the store",
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := Prune(store, stale)
	fmt.Printf("🧹 Removed %d mapping(s).\n", deleted)
	return nil
}

// Probe connects to the remote of every mapping and returns those that
// refused or timed out, ordered by local port.
func Probe(ctx context.Context, mappings []config.Mapping, timeout time.Duration) []Unreachable {
	var (
		mu    sync.Mutex
		stale []Unreachable
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	dialer := &net.Dialer{Timeout: timeout}

	for _, m := range mappings {
		m := m
		g.Go(func() error {
			conn, err := dialer.DialContext(ctx, "tcp", m.RemoteAddr())
			if err != nil {
				logging.LogDebug("Probe: %s unreachable: %v", m, err)
				mu.Lock()
				stale = append(stale, Unreachable{Mapping: m, Err: err})
				mu.Unlock()
				return nil
			}
			conn.Close()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(stale, func(i, j int) bool { return stale[i].Mapping.LocalPort < stale[j].Mapping.LocalPort })
	return stale
}

// Prune deletes the given mappings and returns how many were removed
func Prune(store *config.SQLiteConfigStore, stale []Unreachable) int {
	deleted := 0
	for _, s := range stale {
		if err := store.Delete(s.Mapping.LocalPort); err != nil {
			fmt.Printf("Error deleting %s: %v\n", s.Mapping, err)
			continue
		}
		deleted++
	}
	return deleted
}
