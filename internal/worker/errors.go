package worker

import (
	"errors"
	"fmt"
)

// Terminal failure reasons surfaced through a cell's fail_reason. The
// literal messages are part of the HTTP contract and shown to users.
var (
	// ErrInvalidContent means the downloader reported the content as
	// missing or unavailable upstream.
	ErrInvalidContent = errors.New("requested content is unavailable")

	// ErrDownloadWorkerFailed aborts a transcode whose stage-1
	// dependency terminated in failure.
	ErrDownloadWorkerFailed = errors.New("Download worker failed")

	// ErrDownloadPathMissing means the stage-1 row carries no audio
	// path to transcode from.
	ErrDownloadPathMissing = errors.New("download audio path missing from index")
)

// UsageError is an invocation the downloader itself rejected.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return "usage error: " + e.Message
}

// MissingOutputFileError is a clean subprocess exit that left no
// artifact at the expected path.
type MissingOutputFileError struct {
	Path string
}

func (e *MissingOutputFileError) Error() string {
	return fmt.Sprintf("missing output file: %s", e.Path)
}

// DownloadFileMissingError is a stage-1 artifact recorded in the index
// but absent from disk when the transcode worker went to read it.
type DownloadFileMissingError struct {
	Path string
}

func (e *DownloadFileMissingError) Error() string {
	return fmt.Sprintf("download file missing: %s", e.Path)
}
