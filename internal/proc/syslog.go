package proc

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// SystemLog is the worker-owned diagnostic log for one task run. The
// supervisor and the worker body both write to it, so writes are
// serialized.
type SystemLog struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// CreateSystemLog creates (truncating) the system log at path.
func CreateSystemLog(path string) (*SystemLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &LogCreateError{Stream: "system", Err: err}
	}
	return &SystemLog{file: f, w: bufio.NewWriter(f)}, nil
}

// Printf appends one formatted line.
func (l *SystemLog) Printf(format string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.w, format+"\n", args...); err != nil {
		return &LogWriteError{Stream: "system", Err: err}
	}
	return nil
}

// Close flushes and closes the log file.
func (l *SystemLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
