package unit

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Status is the lifecycle state of a computation unit, as recorded in its
// status file. The zero value is StatusNone.
type Status int

const (
	// StatusNone means no status record exists (or records no outcome yet).
	StatusNone Status = iota
	// StatusSubmitted means the unit was handed to an external backend.
	StatusSubmitted
	// StatusRunning means a process, local or external, is computing the unit.
	StatusRunning
	// StatusError means the last computation attempt failed.
	StatusError
	// StatusSuccess means the unit computed successfully.
	StatusSuccess
	// StatusStopped means a computation was cancelled before completion.
	StatusStopped
)

var statusNames = map[Status]string{
	StatusNone:      "NONE",
	StatusSubmitted: "SUBMITTED",
	StatusRunning:   "RUNNING",
	StatusError:     "ERROR",
	StatusSuccess:   "SUCCESS",
	StatusStopped:   "STOPPED",
}

// String returns the canonical upper-case name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus converts a canonical status name back into a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusNone, fmt.Errorf("unknown status %q", name)
}

// MarshalYAML encodes the status as its canonical name.
func (s Status) MarshalYAML() (any, error) {
	return s.String(), nil
}

// UnmarshalYAML decodes a canonical status name.
func (s *Status) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
