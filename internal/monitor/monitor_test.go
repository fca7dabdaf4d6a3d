package monitor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipegrid/pipegrid/internal/unit"
)

func newTestMonitor() *Monitor {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func collectEvents(m *Monitor) *[]Event {
	var events []Event
	m.UnitChanged.Subscribe(func(ev Event) { events = append(events, ev) })
	return &events
}

func unitEvents(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Unit != nil {
			out = append(out, ev)
		}
	}
	return out
}

func TestSetWatchList_EmitsReplacementEvent(t *testing.T) {
	t.Parallel()

	m := newTestMonitor()
	events := collectEvents(m)

	m.SetWatchList(nil)

	require.Len(t, *events, 1)
	assert.Nil(t, (*events)[0].Unit)
}

func TestPollTick_EmptyWatchListIsSafe(t *testing.T) {
	t.Parallel()

	m := newTestMonitor()
	m.SetWatchList(nil)
	events := collectEvents(m)

	m.PollTick()
	m.PollTick()

	assert.Empty(t, *events)
}

func TestPollTick_FiresOncePerIndicatorChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u := unit.New("a", "Sleep", 0, dir)
	m := newTestMonitor()
	m.SetWatchList([]*unit.Unit{u})
	events := collectEvents(m)

	// Absent record: no change.
	m.PollTick()
	require.Empty(t, unitEvents(*events))

	// Record appears externally (written without the self-report path).
	writeRecordExternally(t, dir, unit.StatusRunning)
	m.PollTick()
	got := unitEvents(*events)
	require.Len(t, got, 1)
	assert.Same(t, u, got[0].Unit)
	assert.Equal(t, unit.StatusRunning, got[0].Status)

	// Unchanged record: polling stays silent however often it runs.
	m.PollTick()
	m.PollTick()
	require.Len(t, unitEvents(*events), 1)

	// Record rewritten with a newer timestamp: exactly one more event.
	writeRecordExternally(t, dir, unit.StatusSuccess)
	bumpModTime(t, u.StatusFile())
	m.PollTick()
	got = unitEvents(*events)
	require.Len(t, got, 2)
	assert.Equal(t, unit.StatusSuccess, got[1].Status)
}

func TestPollTick_RecordDisappearanceCounts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u := unit.New("a", "Sleep", 0, dir)
	writeRecordExternally(t, dir, unit.StatusSuccess)
	m := newTestMonitor()
	m.SetWatchList([]*unit.Unit{u})
	events := collectEvents(m)

	require.NoError(t, os.Remove(u.StatusFile()))
	m.PollTick()

	got := unitEvents(*events)
	require.Len(t, got, 1)
	assert.Equal(t, unit.StatusNone, got[0].Status, "missing record resets to NONE")
}

func TestSelfReport_SuppressesNextPoll(t *testing.T) {
	t.Parallel()

	u := unit.New("a", "Sleep", 0, t.TempDir())
	m := newTestMonitor()
	m.SetWatchList([]*unit.Unit{u})
	events := collectEvents(m)

	// An in-process write announces itself; the poll path must then see no
	// difference and stay silent.
	require.NoError(t, u.SetStatus(unit.StatusRunning))
	got := unitEvents(*events)
	require.Len(t, got, 1)
	assert.Equal(t, unit.StatusRunning, got[0].Status)

	m.PollTick()
	assert.Len(t, unitEvents(*events), 1, "self-reported change must not fire twice")
}

func TestSelfReport_UnwatchedUnitPanics(t *testing.T) {
	t.Parallel()

	u := unit.New("a", "Sleep", 0, t.TempDir())
	m := newTestMonitor()
	m.SetWatchList(nil)

	require.Panics(t, func() { m.OnUnitStatusChanged(u) })
}

func TestSetWatchList_DetachesPreviousUnits(t *testing.T) {
	t.Parallel()

	u := unit.New("a", "Sleep", 0, t.TempDir())
	m := newTestMonitor()
	m.SetWatchList([]*unit.Unit{u})
	m.SetWatchList(nil)
	events := collectEvents(m)

	// u is no longer watched; its self-report must not reach the monitor
	// (which would panic on an unwatched unit).
	require.NoError(t, u.SetStatus(unit.StatusRunning))

	assert.Empty(t, unitEvents(*events))
}

func TestStart_PollsInBackground(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u := unit.New("a", "Sleep", 0, dir)
	m := newTestMonitor()
	m.SetWatchList([]*unit.Unit{u})

	ch := make(chan Event, 16)
	m.UnitChanged.Subscribe(func(ev Event) {
		if ev.Unit != nil {
			ch <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, 10*time.Millisecond)

	writeRecordExternally(t, dir, unit.StatusSuccess)

	select {
	case ev := <-ch:
		assert.Equal(t, unit.StatusSuccess, ev.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the poll loop to pick up the record")
	}
}

func TestPollTick_ConcurrentWithSelfReports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u := unit.New("a", "Sleep", 0, dir)
	m := newTestMonitor()
	m.SetWatchList([]*unit.Unit{u})

	// A worker-style writer and the poll path hammer the same unit; the
	// race detector verifies the in-memory record stays consistent.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s := unit.StatusRunning
			if i%2 == 1 {
				s = unit.StatusSuccess
			}
			assert.NoError(t, u.SetStatus(s))
		}
	}()
	for i := 0; i < 100; i++ {
		m.PollTick()
		_ = u.Record()
	}
	<-done
}

func TestStart_FileEventConvergesWithPolling(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u := unit.New("a", "Sleep", 0, dir)
	// The watcher attaches to the record's directory, so it must exist
	// before Start.
	require.NoError(t, os.MkdirAll(filepath.Dir(u.StatusFile()), 0o755))

	m := newTestMonitor()
	m.SetWatchList([]*unit.Unit{u})
	ch := make(chan Event, 16)
	m.UnitChanged.Subscribe(func(ev Event) {
		if ev.Unit != nil {
			ch <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// A poll period this long never fires during the test; only the
	// filesystem event can deliver the change.
	m.Start(ctx, time.Hour)

	writeRecordExternally(t, dir, unit.StatusRunning)

	select {
	case ev := <-ch:
		assert.Equal(t, unit.StatusRunning, ev.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the filesystem event")
	}

	// The event already recorded the new indicator; polling then sees no
	// difference and stays silent.
	m.PollTick()
	select {
	case ev := <-ch:
		t.Fatalf("already-reported change fired again: unit %s status %s", ev.Unit.ID(), ev.Status)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetWatchList_DropsStaleDirectoryWatches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := unit.New("a", "Sleep", 0, dir)
	b := unit.New("b", "Sleep", 0, dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(a.StatusFile()), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(b.StatusFile()), 0o755))

	m := newTestMonitor()
	m.SetWatchList([]*unit.Unit{a})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, time.Hour)

	m.SetWatchList([]*unit.Unit{b})

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.watchDirs, filepath.Dir(a.StatusFile()))
	assert.Contains(t, m.watchDirs, filepath.Dir(b.StatusFile()))
}

// writeRecordExternally writes a status record the way another process
// would: through a separate unit instance, so the watched unit's
// self-report path never fires.
func writeRecordExternally(t *testing.T, cacheDir string, s unit.Status) {
	t.Helper()
	ghost := unit.New("a", "Sleep", 0, cacheDir)
	require.NoError(t, ghost.SetStatus(s))
}

// bumpModTime pushes the file's mtime forward so consecutive writes within
// one filesystem timestamp granule still register as changes.
func bumpModTime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}
