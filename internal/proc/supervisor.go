// Package proc supervises the external binaries: it spawns a child with
// both output streams piped, drains each stream into a log file while
// feeding parsed lines to a callback, and interprets the exit.
package proc

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
)

// carriageReturnReader rewrites bare carriage returns to newlines.
// Downloaders redraw their progress line in place with \r; line-oriented
// parsing needs every redraw on its own line.
type carriageReturnReader struct {
	r io.Reader
}

func (c carriageReturnReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	for i := 0; i < n; i++ {
		if p[i] == '\r' {
			p[i] = '\n'
		}
	}
	return n, err
}

// LineHandler receives one normalized output line. Returning a non-nil
// error marks the run as failed even if the child exits zero; draining
// and logging continue so the log files stay complete.
type LineHandler func(line string) error

// Command describes one supervised child process run.
type Command struct {
	// Name tags system log lines, e.g. "ytdlp" or "ffmpeg".
	Name   string
	Binary string
	Args   []string

	StdoutLogPath string
	StderrLogPath string

	// OnStdoutLine and OnStderrLine may be nil; lines are then logged
	// only. Handlers run on separate goroutines and must be safe to call
	// concurrently with each other.
	OnStdoutLine LineHandler
	OnStderrLine LineHandler

	// OnStarted fires once the child process is live.
	OnStarted func()

	SystemLog *SystemLog
}

// Run executes the command to completion. It returns nil only when the
// child exits cleanly (absent or zero exit code) and no handler reported
// a fatal line.
func Run(c Command) error {
	stdoutLog, err := os.Create(c.StdoutLogPath)
	if err != nil {
		return &LogCreateError{Stream: "stdout", Err: err}
	}
	defer stdoutLog.Close()
	stderrLog, err := os.Create(c.StderrLogPath)
	if err != nil {
		return &LogCreateError{Stream: "stderr", Err: err}
	}
	defer stderrLog.Close()

	child := exec.Command(c.Binary, c.Args...)
	stdoutPipe, err := child.StdoutPipe()
	if err != nil {
		return &StreamMissingError{Stream: "stdout"}
	}
	stderrPipe, err := child.StderrPipe()
	if err != nil {
		return &StreamMissingError{Stream: "stderr"}
	}

	if err := child.Start(); err != nil {
		c.SystemLog.Printf("[error] %s failed to start: %v", c.Name, err)
		return &SpawnError{Err: err}
	}
	if c.OnStarted != nil {
		c.OnStarted()
	}

	var wg sync.WaitGroup
	var stdoutErr, stderrErr error
	wg.Add(2)
	go drainStream("stdout", stdoutPipe, stdoutLog, c.OnStdoutLine, &stdoutErr, &wg)
	go drainStream("stderr", stderrPipe, stderrLog, c.OnStderrLine, &stderrErr, &wg)
	wg.Wait()

	waitErr := child.Wait()

	// A fatal line wins over the exit code: the downloader exits zero on
	// some unusable outcomes it still reports on stderr.
	if stdoutErr != nil {
		return stdoutErr
	}
	if stderrErr != nil {
		return stderrErr
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// Killed by signal means no exit code; treat as absent.
			if code := exitErr.ExitCode(); code > 0 {
				c.SystemLog.Printf("[error] %s exited with bad code: %d", c.Name, code)
				return ErrLoggedFail
			}
			return nil
		}
		c.SystemLog.Printf("[warn] %s failed to reap: %v", c.Name, waitErr)
		if killErr := child.Process.Kill(); killErr != nil {
			c.SystemLog.Printf("[warn] %s failed to be killed: %v", c.Name, killErr)
		}
	}
	return nil
}

// drainStream reads the stream to EOF, appending every normalized line to
// the log file and feeding it to the handler. The first handler error is
// kept; draining and logging continue so the child never blocks on a full
// pipe and the log stays complete.
func drainStream(name string, pipe io.Reader, logFile *os.File, handler LineHandler, result *error, wg *sync.WaitGroup) {
	defer func() {
		if r := recover(); r != nil {
			*result = &StreamPanicError{Stream: name, Value: r}
		}
		wg.Done()
	}()

	w := bufio.NewWriter(logFile)
	defer w.Flush()

	scanner := bufio.NewScanner(carriageReturnReader{r: pipe})
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	logBroken := false
	for scanner.Scan() {
		line := scanner.Text()
		if !logBroken {
			if _, err := w.WriteString(line + "\n"); err != nil {
				if *result == nil {
					*result = &LogWriteError{Stream: name, Err: err}
				}
				logBroken = true
			}
		}
		if handler != nil && *result == nil {
			if err := handler(line); err != nil {
				*result = err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if *result == nil {
			*result = &StreamReadError{Stream: name, Err: err}
		}
		// The scanner stopped mid-stream (a line beyond its buffer cap,
		// a read error). The child must not wedge on a full pipe, so
		// keep consuming the stream into the log until EOF.
		io.Copy(w, pipe)
	}
}
