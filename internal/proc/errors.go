package proc

import (
	"errors"
	"fmt"
)

// ErrLoggedFail marks a failure whose details were already written to the
// system log (bad exit code, spawn diagnostics).
var ErrLoggedFail = errors.New("process failed, details in system log")

// SpawnError reports that the child process never started.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn process: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// LogCreateError reports that a per-stream log file could not be created.
type LogCreateError struct {
	Stream string
	Err    error
}

func (e *LogCreateError) Error() string {
	return fmt.Sprintf("failed to create %s log: %v", e.Stream, e.Err)
}

func (e *LogCreateError) Unwrap() error { return e.Err }

// LogWriteError reports a failed append to a per-stream log file.
type LogWriteError struct {
	Stream string
	Err    error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("failed to write %s log: %v", e.Stream, e.Err)
}

func (e *LogWriteError) Unwrap() error { return e.Err }

// StreamReadError reports that a child output stream could not be read
// to EOF, e.g. a single line exceeding the scanner's buffer cap.
type StreamReadError struct {
	Stream string
	Err    error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("failed to read %s from process: %v", e.Stream, e.Err)
}

func (e *StreamReadError) Unwrap() error { return e.Err }

// StreamMissingError reports that a child output pipe could not be
// acquired.
type StreamMissingError struct {
	Stream string
}

func (e *StreamMissingError) Error() string {
	return fmt.Sprintf("failed to acquire %s from process", e.Stream)
}

// StreamPanicError reports a panic inside a stream drain goroutine.
type StreamPanicError struct {
	Stream string
	Value  any
}

func (e *StreamPanicError) Error() string {
	return fmt.Sprintf("%s drain goroutine panicked: %v", e.Stream, e.Value)
}
