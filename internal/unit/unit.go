// Package unit defines the computation unit: the smallest schedulable piece
// of a node's work. A unit's authoritative state lives in a YAML status
// record on disk, which may be rewritten by this process, by another
// machine, or by a submission backend. In-process writers additionally
// announce changes through the unit's StatusChanged publisher; everything
// else is discovered by the status monitor's polling.
package unit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pipegrid/pipegrid/internal/pubsub"
)

// Record is the on-disk status record of a unit.
type Record struct {
	Status     Status    `yaml:"status"`
	NodeType   string    `yaml:"nodeType,omitempty"`
	StartedAt  time.Time `yaml:"startedAt,omitempty"`
	FinishedAt time.Time `yaml:"finishedAt,omitempty"`
	Error      string    `yaml:"error,omitempty"`
}

// Unit is one schedulable slice of a node's computation. Units are created
// when graph topology is (re)computed and are identified by their owning
// node's name plus a split index.
type Unit struct {
	nodeName string
	nodeType string
	index    int
	cacheDir string

	// record is read by the home goroutine and the execution worker while
	// the monitor's poll goroutine may rewrite it; mu keeps any reader from
	// observing a half-replaced record.
	mu     sync.Mutex
	record Record

	// StatusChanged fires after an in-process writer updates the unit's
	// record. This is the low-latency self-report path; external writers
	// are only ever seen through the record file itself, via polling.
	StatusChanged *pubsub.Publisher[*Unit]
}

// New creates a unit for the given node slice. cacheDir is the graph's
// cache directory, under which the unit's status record lives.
func New(nodeName, nodeType string, index int, cacheDir string) *Unit {
	return &Unit{
		nodeName:      nodeName,
		nodeType:      nodeType,
		index:         index,
		cacheDir:      cacheDir,
		StatusChanged: pubsub.New[*Unit](),
	}
}

// ID returns the unit's stable identity, unique within one graph topology.
func (u *Unit) ID() string {
	return fmt.Sprintf("%s#%d", u.nodeName, u.index)
}

// NodeName returns the name of the owning node.
func (u *Unit) NodeName() string { return u.nodeName }

// NodeType returns the type name of the owning node.
func (u *Unit) NodeType() string { return u.nodeType }

// Index returns the unit's split index within its node.
func (u *Unit) Index() int { return u.index }

// StatusFile returns the path of the unit's status record.
func (u *Unit) StatusFile() string {
	return filepath.Join(u.cacheDir, u.nodeName, fmt.Sprintf("status.%d.yaml", u.index))
}

// Status returns the last known status. It reflects the most recent
// SaveRecord or RefreshFromRecord call, not the file's live content.
func (u *Unit) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.record.Status
}

// Record returns a copy of the last known record.
func (u *Unit) Record() Record {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.record
}

func (u *Unit) setRecord(rec Record) {
	u.mu.Lock()
	u.record = rec
	u.mu.Unlock()
}

// RefreshFromRecord re-reads the status record from disk into the unit.
// A missing record resets the unit to StatusNone; that is a normal state,
// not an error. Malformed or unreadable records are reported as errors and
// leave the last known record in place.
func (u *Unit) RefreshFromRecord() error {
	raw, err := os.ReadFile(u.StatusFile())
	if errors.Is(err, fs.ErrNotExist) {
		u.setRecord(Record{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read status record for %s: %w", u.ID(), err)
	}

	var rec Record
	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("parse status record for %s: %w", u.ID(), err)
	}
	u.setRecord(rec)
	return nil
}

// SaveRecord writes the record to the unit's status file and announces the
// change on StatusChanged. The write is atomic (temp file plus rename) so a
// concurrent reader never observes a half-written record.
func (u *Unit) SaveRecord(rec Record) error {
	rec.NodeType = u.nodeType
	raw, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode status record for %s: %w", u.ID(), err)
	}

	path := u.StatusFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create status directory for %s: %w", u.ID(), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write status record for %s: %w", u.ID(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit status record for %s: %w", u.ID(), err)
	}

	u.setRecord(rec)
	u.StatusChanged.Publish(u)
	return nil
}

// SetStatus is a convenience wrapper for writers that only care about the
// status value. Start and finish timestamps are filled in for the running
// and terminal states respectively.
func (u *Unit) SetStatus(s Status) error {
	rec := u.Record()
	rec.Status = s
	rec.Error = ""
	switch s {
	case StatusRunning:
		rec.StartedAt = time.Now().UTC()
		rec.FinishedAt = time.Time{}
	case StatusSuccess, StatusError, StatusStopped:
		rec.FinishedAt = time.Now().UTC()
	}
	return u.SaveRecord(rec)
}

// SetError records a failed computation attempt along with its cause.
func (u *Unit) SetError(cause error) error {
	rec := u.Record()
	rec.Status = StatusError
	rec.FinishedAt = time.Now().UTC()
	rec.Error = cause.Error()
	return u.SaveRecord(rec)
}
