package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xlttj/prtrelay/pkg/config"
	"github.com/xlttj/prtrelay/pkg/logging"
)

// runningInfo holds a serving listener and the mapping it was started with.
type runningInfo struct {
	listener *Listener
	mapping  config.Mapping
	done     chan struct{} // closed when Serve returns
}

// Forwarder manages one Listener per local port
type Forwarder struct {
	RunningForwards map[int]*runningInfo // Map of local port to running listener
	reserved        map[int]struct{}     // Ports being started or running
	failures        map[int]error        // Last bind or accept failure per local port
	opts            Options
	Mutex           sync.Mutex // Protects the maps

	reloadMu sync.Mutex
}

// NewForwarder creates a forwarder whose listeners use opts
func NewForwarder(opts Options) *Forwarder {
	return &Forwarder{
		RunningForwards: make(map[int]*runningInfo),
		reserved:        make(map[int]struct{}),
		failures:        make(map[int]error),
		opts:            opts,
	}
}

// Start binds the local port of m and begins serving it in the background.
// Starting a mapping that is already running unchanged is a no-op.
func (f *Forwarder) Start(m config.Mapping) error {
	port := m.LocalPort

	f.Mutex.Lock()
	if info, exists := f.RunningForwards[port]; exists {
		f.Mutex.Unlock()
		if info.mapping == m {
			logging.LogDebug("Listener for port %d already running.", port)
			return nil
		}
		return fmt.Errorf("%w: port %d serves %s", ErrPortReserved, port, info.mapping.Target())
	}
	if _, reserved := f.reserved[port]; reserved {
		f.Mutex.Unlock()
		logging.LogError("Cannot start %s: %v", m, ErrPortReserved)
		return ErrPortReserved
	}
	f.reserved[port] = struct{}{}
	logging.LogDebug("Reserved local port %d", port)
	f.Mutex.Unlock() // Unlock before the bind

	l, err := Listen(m, f.opts)

	f.Mutex.Lock()
	defer f.Mutex.Unlock()
	if err != nil {
		delete(f.reserved, port)
		f.failures[port] = err
		logging.LogError("%v", err)
		return err
	}
	delete(f.failures, port)

	info := &runningInfo{listener: l, mapping: m, done: make(chan struct{})}
	f.RunningForwards[port] = info
	go func() {
		defer close(info.done)
		if err := l.Serve(); err != nil {
			// Live connections keep running until Stop
			logging.LogError("Listener stopped accepting: %v", err)
			f.Mutex.Lock()
			f.failures[port] = err
			f.Mutex.Unlock()
		}
	}()
	logging.LogDebug("Started listener for %s on %s", m, l.Addr())
	return nil
}

// Stop closes the listener of the given local port and every connection it
// accepted. Stopping a port that is not running does nothing.
func (f *Forwarder) Stop(port int) error {
	f.Mutex.Lock()
	info, exists := f.RunningForwards[port]
	if !exists {
		f.Mutex.Unlock()
		logging.LogDebug("Stop: listener for port %d not found or already stopped.", port)
		return nil
	}
	delete(f.RunningForwards, port)
	f.Mutex.Unlock()

	err := stopListener(info)

	// The port stays reserved until the socket is released
	f.Mutex.Lock()
	delete(f.reserved, port)
	f.Mutex.Unlock()
	logging.LogDebug("Stop: stopped listener for port %d", port)
	return err
}

func stopListener(info *runningInfo) error {
	err := info.listener.Close()
	<-info.done
	if err != nil {
		logging.LogError("Stop: error closing listener on port %d: %v", info.mapping.LocalPort, err)
	}
	return err
}

// IsRunning checks if a listener is serving the given local port
func (f *Forwarder) IsRunning(port int) bool {
	f.Mutex.Lock()
	defer f.Mutex.Unlock()
	_, exists := f.RunningForwards[port]
	return exists
}

// Running returns the mappings currently served, ordered by local port.
func (f *Forwarder) Running() []config.Mapping {
	f.Mutex.Lock()
	out := make([]config.Mapping, 0, len(f.RunningForwards))
	for _, info := range f.RunningForwards {
		out = append(out, info.mapping)
	}
	f.Mutex.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LocalPort < out[j].LocalPort })
	return out
}

func (f *Forwarder) listener(port int) *Listener {
	f.Mutex.Lock()
	defer f.Mutex.Unlock()
	if info, ok := f.RunningForwards[port]; ok {
		return info.listener
	}
	return nil
}

// ActiveConnections returns the live connection count of a port, 0 when stopped.
func (f *Forwarder) ActiveConnections(port int) int {
	if l := f.listener(port); l != nil {
		return l.ActiveConnections()
	}
	return 0
}

// Traffic returns the bytes forwarded through a port since it was started.
func (f *Forwarder) Traffic(port int) (sent, received int64) {
	if l := f.listener(port); l != nil {
		return l.Traffic()
	}
	return 0, 0
}

// Addr returns the bound address of a running port, nil when stopped.
func (f *Forwarder) Addr(port int) net.Addr {
	if l := f.listener(port); l != nil {
		return l.Addr()
	}
	return nil
}

// LastError returns the most recent bind or accept failure of a port.
func (f *Forwarder) LastError(port int) error {
	f.Mutex.Lock()
	defer f.Mutex.Unlock()
	return f.failures[port]
}

// StartAll starts every mapping concurrently. A mapping that cannot be
// started does not prevent the others; its error is returned keyed by port.
func (f *Forwarder) StartAll(mappings []config.Mapping) map[int]error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs = make(map[int]error)
	)
	for _, m := range mappings {
		m := m
		g.Go(func() error {
			if err := f.Start(m); err != nil {
				mu.Lock()
				errs[m.LocalPort] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// CleanupAll stops every listener
func (f *Forwarder) CleanupAll() {
	f.Mutex.Lock()
	infos := make([]*runningInfo, 0, len(f.RunningForwards))
	for _, info := range f.RunningForwards {
		infos = append(infos, info)
	}
	f.RunningForwards = make(map[int]*runningInfo)
	f.Mutex.Unlock()

	var g errgroup.Group
	for _, info := range infos {
		info := info
		logging.LogDebug("CleanupAll: Stopping port %d", info.mapping.LocalPort)
		g.Go(func() error { return stopListener(info) })
	}
	_ = g.Wait()

	// Reservations of starts still binding are left alone
	f.Mutex.Lock()
	for _, info := range infos {
		delete(f.reserved, info.mapping.LocalPort)
	}
	f.Mutex.Unlock()
	logging.LogDebug("CleanupAll finished.")
}

// Run starts every mapping and serves until ctx is cancelled, then stops
// all listeners. It fails with ErrNoListeners when no mapping could be bound.
func (f *Forwarder) Run(ctx context.Context, mappings []config.Mapping) error {
	if len(mappings) == 0 {
		return ErrNoListeners
	}
	errs := f.StartAll(mappings)
	if len(errs) == len(mappings) {
		all := make([]error, 0, len(errs))
		for _, m := range mappings {
			all = append(all, errs[m.LocalPort])
		}
		return fmt.Errorf("%w: %w", ErrNoListeners, errors.Join(all...))
	}

	<-ctx.Done()
	logging.LogInfo("Shutting down %d listener(s)", len(f.Running()))
	f.CleanupAll()
	return nil
}

// ReloadResult represents the outcome of a configuration reload operation
type ReloadResult struct {
	Stopped []int         // Ports whose listener was stopped
	Started []int         // Ports whose listener was started
	Updated []int         // Ports whose mapping changed
	Errors  map[int]error // Errors by local port
}

// ReloadSync applies a new mapping set to the running listeners. Removed
// mappings are stopped, changed mappings that were running are restarted with
// the new target, and added mappings are started only when autoStart is set.
// autoStart also retries kept mappings that are not running, such as a port
// that failed to bind earlier. Running unchanged mappings keep their listener
// and live connections.
func (f *Forwarder) ReloadSync(oldMappings, newMappings []config.Mapping, autoStart bool) *ReloadResult {
	f.reloadMu.Lock()
	defer f.reloadMu.Unlock()

	result := &ReloadResult{
		Stopped: []int{},
		Started: []int{},
		Updated: []int{},
		Errors:  make(map[int]error),
	}

	logging.LogDebug("ReloadSync: Starting with %d old mappings, %d new mappings", len(oldMappings), len(newMappings))

	oldByPort := make(map[int]config.Mapping, len(oldMappings))
	for _, m := range oldMappings {
		oldByPort[m.LocalPort] = m
	}
	newByPort := make(map[int]config.Mapping, len(newMappings))
	for _, m := range newMappings {
		newByPort[m.LocalPort] = m
	}

	// Phase 1: removed mappings
	for _, m := range oldMappings {
		if _, kept := newByPort[m.LocalPort]; kept || !f.IsRunning(m.LocalPort) {
			continue
		}
		logging.LogDebug("ReloadSync: Mapping %s removed, stopping listener", m)
		if err := f.Stop(m.LocalPort); err != nil {
			result.Errors[m.LocalPort] = fmt.Errorf("failed to stop removed mapping: %w", err)
			continue
		}
		result.Stopped = append(result.Stopped, m.LocalPort)
	}

	// Phase 2: changed and added mappings
	for _, m := range newMappings {
		old, existed := oldByPort[m.LocalPort]
		switch {
		case existed && !mappingChanged(old, m):
			if autoStart && !f.IsRunning(m.LocalPort) {
				logging.LogDebug("ReloadSync: Mapping %s unchanged but not running, starting", m)
				f.reloadStart(m, result)
				continue
			}
			logging.LogDebug("ReloadSync: Mapping %s unchanged - preserving current runtime state", m)
		case existed:
			result.Updated = append(result.Updated, m.LocalPort)
			if !f.IsRunning(m.LocalPort) {
				if autoStart {
					f.reloadStart(m, result)
				}
				continue
			}
			logging.LogDebug("ReloadSync: Target changed for port %d (%s -> %s), restarting", m.LocalPort, old.Target(), m.Target())
			if err := f.Stop(m.LocalPort); err != nil {
				result.Errors[m.LocalPort] = fmt.Errorf("failed to stop changed mapping: %w", err)
				continue
			}
			result.Stopped = append(result.Stopped, m.LocalPort)
			f.reloadStart(m, result)
		case autoStart:
			logging.LogDebug("ReloadSync: New mapping %s added, starting", m)
			f.reloadStart(m, result)
		default:
			logging.LogDebug("ReloadSync: New mapping %s added (not started)", m)
		}
	}

	logging.LogDebug("ReloadSync: Complete - Stopped: %d, Started: %d, Updated: %d, Errors: %d",
		len(result.Stopped), len(result.Started), len(result.Updated), len(result.Errors))
	return result
}

func (f *Forwarder) reloadStart(m config.Mapping, result *ReloadResult) {
	if err := f.Start(m); err != nil {
		result.Errors[m.LocalPort] = err
		return
	}
	result.Started = append(result.Started, m.LocalPort)
}

// mappingChanged checks if the target of a mapping changed
func mappingChanged(old, new config.Mapping) bool {
	return old.RemoteHost != new.RemoteHost || old.RemotePort != new.RemotePort
}
