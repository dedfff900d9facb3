package media

import (
	"encoding/json"
	"fmt"
)

// WorkerStatus is the lifecycle state of a download or transcode task.
// The integer values are persisted in the index; the string values are
// what the HTTP surface reports.
type WorkerStatus int

const (
	StatusNone WorkerStatus = iota
	StatusQueued
	StatusRunning
	StatusFinished
	StatusFailed
)

var statusNames = [...]string{
	StatusNone:     "none",
	StatusQueued:   "queued",
	StatusRunning:  "running",
	StatusFinished: "finished",
	StatusFailed:   "failed",
}

// InvalidStatusError reports a persisted status value outside the enum.
type InvalidStatusError struct {
	Value int
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid worker status value: %d", e.Value)
}

// StatusFromInt decodes a persisted integer status.
func StatusFromInt(v int) (WorkerStatus, error) {
	if v < 0 || v >= len(statusNames) {
		return StatusNone, &InvalidStatusError{Value: v}
	}
	return WorkerStatus(v), nil
}

// ParseWorkerStatus decodes the string form.
func ParseWorkerStatus(s string) (WorkerStatus, error) {
	for i, name := range statusNames {
		if name == s {
			return WorkerStatus(i), nil
		}
	}
	return StatusNone, fmt.Errorf("invalid worker status: %q", s)
}

// IsBusy reports whether a worker currently owns this key.
func (s WorkerStatus) IsBusy() bool {
	return s == StatusQueued || s == StatusRunning
}

func (s WorkerStatus) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalJSON encodes the status as its string form so API payloads read
// "queued" rather than 1. Out-of-range values refuse to encode.
func (s WorkerStatus) MarshalJSON() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, &InvalidStatusError{Value: int(s)}
	}
	return json.Marshal(statusNames[s])
}

// UnmarshalJSON decodes the string form.
func (s *WorkerStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseWorkerStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
