// Package monitor implements the status monitor: it watches the status
// records of the graph's computation units and raises a notification
// exactly when a record's change indicator moves.
//
// A unit's status may be rewritten by an unrelated process or another
// machine, so monitoring is based on regular polling of each record's
// modification time, never on the writer being observable. Two faster
// paths feed the same indicator bookkeeping: in-process writers announce
// themselves through the unit's StatusChanged publisher, and an fsnotify
// watcher picks up local filesystem events between ticks. Whichever path
// observes a change first records the new indicator; the others then see
// no difference and stay silent.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pipegrid/pipegrid/internal/pubsub"
	"github.com/pipegrid/pipegrid/internal/unit"
)

// DefaultPollInterval is how often status records are checked when the
// caller does not configure a period.
const DefaultPollInterval = 5 * time.Second

// indicatorAbsent is the change-indicator value for a record that does not
// exist or cannot be read this tick. It is a stable value distinct from
// any modification time.
const indicatorAbsent = int64(-1)

// Event is one status notification. Unit is nil when the watch list itself
// was replaced; subscribers then refresh any aggregate state.
type Event struct {
	Unit   *unit.Unit
	Status unit.Status
}

// Monitor polls the watched units' status records and publishes Events.
// The watch list is replaced wholesale by the orchestrator whenever graph
// topology changes; the monitor holds no other reference to the graph.
type Monitor struct {
	logger *slog.Logger

	// UnitChanged carries per-unit status notifications and watch-list
	// replacement events.
	UnitChanged *pubsub.Publisher[Event]

	mu        sync.Mutex
	records   map[*unit.Unit]int64
	order     []*unit.Unit
	byFile    map[string]*unit.Unit
	unsub     []func()
	watcher   *fsnotify.Watcher
	watchDirs map[string]bool
}

// New creates a monitor with an empty watch list.
func New(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:      logger,
		UnitChanged: pubsub.New[Event](),
		records:     make(map[*unit.Unit]int64),
		byFile:      make(map[string]*unit.Unit),
		watchDirs:   make(map[string]bool),
	}
}

// SetWatchList replaces the watched set. Previous units are detached from
// their self-report publishers, each new unit's current indicator is
// snapshotted, and a watch-list replacement event (nil unit) is emitted.
// Safe to call with an empty or nil set, and idempotent in effect.
func (m *Monitor) SetWatchList(units []*unit.Unit) {
	m.mu.Lock()
	for _, cancel := range m.unsub {
		cancel()
	}
	m.unsub = m.unsub[:0]
	m.records = make(map[*unit.Unit]int64, len(units))
	m.order = append(m.order[:0], units...)
	m.byFile = make(map[string]*unit.Unit, len(units))

	for _, u := range units {
		m.records[u] = indicator(u.StatusFile())
		m.byFile[filepath.Clean(u.StatusFile())] = u
		m.unsub = append(m.unsub, u.StatusChanged.Subscribe(m.OnUnitStatusChanged))
		m.addWatchLocked(u)
	}
	m.dropStaleWatchesLocked()
	m.mu.Unlock()

	m.logger.Debug("Watch list replaced.", "units", len(units))
	m.UnitChanged.Publish(Event{})
}

// OnUnitStatusChanged handles a unit announcing its own status change (the
// in-process path). The stored indicator is brought up to date so the next
// poll tick does not re-fire for the same change, then a per-unit event is
// emitted. Calling this for a unit outside the watch set is a caller bug.
func (m *Monitor) OnUnitStatusChanged(u *unit.Unit) {
	m.mu.Lock()
	if _, watched := m.records[u]; !watched {
		m.mu.Unlock()
		panic("monitor: status change reported for unwatched unit " + u.ID())
	}
	m.records[u] = indicator(u.StatusFile())
	m.addWatchLocked(u)
	m.mu.Unlock()

	m.UnitChanged.Publish(Event{Unit: u, Status: u.Status()})
}

// PollTick re-reads every watched unit's change indicator and, for each
// one that moved, refreshes the unit from its record and emits a per-unit
// event. One unit's unreadable record never blocks the others, and nothing
// escapes a tick: a record that cannot be read counts as absent this tick
// and is retried on the next.
func (m *Monitor) PollTick() {
	m.mu.Lock()
	watched := append([]*unit.Unit(nil), m.order...)
	m.mu.Unlock()

	for _, u := range watched {
		current := indicator(u.StatusFile())

		m.mu.Lock()
		prev, stillWatched := m.records[u]
		changed := stillWatched && prev != current
		if changed {
			m.records[u] = current
			m.addWatchLocked(u)
		}
		m.mu.Unlock()

		if !changed {
			continue
		}
		if err := u.RefreshFromRecord(); err != nil {
			m.logger.Warn("Failed to refresh unit from status record.", "unit", u.ID(), "error", err)
		}
		m.logger.Debug("Unit status changed.", "unit", u.ID(), "status", u.Status().String())
		m.UnitChanged.Publish(Event{Unit: u, Status: u.Status()})
	}
}

// Start runs the poll loop on its own ticker goroutine until ctx is
// cancelled, and attaches the fsnotify fast path when the platform
// supports it. The monitor works without fsnotify; polling is the
// authoritative mechanism either way.
func (m *Monitor) Start(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultPollInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("Filesystem notifications unavailable, relying on polling only.", "error", err)
	} else {
		m.mu.Lock()
		m.watcher = watcher
		for _, u := range m.order {
			m.addWatchLocked(u)
		}
		m.mu.Unlock()
	}

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		if watcher != nil {
			defer watcher.Close()
		}

		for {
			if watcher != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.PollTick()
				case ev, ok := <-watcher.Events:
					if ok {
						m.onFileEvent(ev)
					}
				case err, ok := <-watcher.Errors:
					if ok {
						m.logger.Warn("Filesystem watcher error.", "error", err)
					}
				}
			} else {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.PollTick()
				}
			}
		}
	}()
}

// onFileEvent maps a filesystem event back to a watched unit and runs the
// same compare-refresh-notify path a poll tick would.
func (m *Monitor) onFileEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	m.mu.Lock()
	u, ok := m.byFile[path]
	if !ok {
		m.mu.Unlock()
		return
	}
	current := indicator(u.StatusFile())
	changed := m.records[u] != current
	if changed {
		m.records[u] = current
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	if err := u.RefreshFromRecord(); err != nil {
		m.logger.Warn("Failed to refresh unit from status record.", "unit", u.ID(), "error", err)
	}
	m.UnitChanged.Publish(Event{Unit: u, Status: u.Status()})
}

// addWatchLocked points the fsnotify watcher at the directory holding the
// unit's status record. The directory may not exist until the first record
// is written; failures are fine because polling covers the gap, and the
// watch is retried whenever the unit shows activity.
func (m *Monitor) addWatchLocked(u *unit.Unit) {
	if m.watcher == nil {
		return
	}
	dir := filepath.Dir(u.StatusFile())
	if m.watchDirs[dir] {
		return
	}
	if err := m.watcher.Add(dir); err != nil {
		m.logger.Debug("Status directory not watchable yet.", "dir", dir, "error", err)
		return
	}
	m.watchDirs[dir] = true
}

// dropStaleWatchesLocked removes directory watches that no watched unit's
// status record lives under anymore, so watches do not pile up across
// graph reloads.
func (m *Monitor) dropStaleWatchesLocked() {
	if m.watcher == nil {
		return
	}
	keep := make(map[string]bool, len(m.order))
	for _, u := range m.order {
		keep[filepath.Dir(u.StatusFile())] = true
	}
	for dir := range m.watchDirs {
		if keep[dir] {
			continue
		}
		if err := m.watcher.Remove(dir); err != nil {
			m.logger.Debug("Failed to remove stale directory watch.", "dir", dir, "error", err)
		}
		delete(m.watchDirs, dir)
	}
}

// indicator returns the record's modification time in unix nanoseconds, or
// indicatorAbsent when the record is missing or unreadable. A transition
// between absent and any time, or between two times, both count as change;
// nothing is inferred from elapsed time alone.
func indicator(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return indicatorAbsent
	}
	return info.ModTime().UnixNano()
}
