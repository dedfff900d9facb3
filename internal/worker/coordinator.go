// Package worker drives the two-stage pipeline that turns a video id
// into audio artifacts: stage 1 downloads the source audio, stage 2
// transcodes it into the requested format. Each stage deduplicates
// concurrent requests through a per-key cache cell and persists its
// terminal state in the index.
package worker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"project-vinyl/internal/cache"
	"project-vinyl/internal/config"
	"project-vinyl/internal/media"
	"project-vinyl/internal/storage"
)

// Coordinator owns the per-key caches, the worker pools and the index.
// HTTP handlers call into it; everything stateful below the edge goes
// through here.
type Coordinator struct {
	cfg   *config.Config
	store *storage.Store
	log   *slog.Logger

	downloads  *cache.Cache[media.ID, DownloadState]
	transcodes *cache.Cache[TranscodeKey, TranscodeState]

	downloadPool  *Pool
	transcodePool *Pool
}

func NewCoordinator(cfg *config.Config, store *storage.Store, log *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:           cfg,
		store:         store,
		log:           log,
		downloads:     cache.New[media.ID, DownloadState](),
		transcodes:    cache.New[TranscodeKey, TranscodeState](),
		downloadPool:  NewPool(cfg.WorkerCount, log.With("component", "download_pool")),
		transcodePool: NewPool(cfg.TranscodeWorkerCount, log.With("component", "transcode_pool")),
	}
}

// Stop parks both pools after the queued work finishes.
func (c *Coordinator) Stop() {
	c.downloadPool.Stop()
	c.transcodePool.Stop()
}

// TryStartDownload runs the stage-1 start protocol and returns the
// status the caller observed: an existing worker's status, Finished for
// a surviving artifact, or Queued once a new body is enqueued.
func (c *Coordinator) TryStartDownload(id media.ID) (media.WorkerStatus, error) {
	cell := c.downloads.EntryOrDefault(id)
	return tryStartStage(cell,
		func(s *DownloadState) *WorkerState { return &s.WorkerState },
		func() (bool, error) {
			row, err := c.store.SelectDownload(id.String())
			if err != nil {
				return false, fmt.Errorf("failed to read download index: %w", err)
			}
			if row == nil || row.Status != media.StatusFinished || row.AudioPath == nil {
				return false, nil
			}
			_, statErr := os.Stat(*row.AudioPath)
			return statErr == nil, nil
		},
		func() error {
			if err := c.store.UpsertQueuedDownload(id.String()); err != nil {
				return fmt.Errorf("failed to queue download row: %w", err)
			}
			return nil
		},
		func() {
			c.downloadPool.Submit(func() { c.runDownload(id, cell) })
		},
	)
}

// TryStartTranscode runs the stage-2 start protocol. The caller is
// responsible for starting the stage-1 download; the worker body waits
// for it.
func (c *Coordinator) TryStartTranscode(key TranscodeKey) (media.WorkerStatus, error) {
	cell := c.transcodes.EntryOrDefault(key)
	return tryStartStage(cell,
		func(s *TranscodeState) *WorkerState { return &s.WorkerState },
		func() (bool, error) {
			row, err := c.store.SelectTranscode(key.ID.String(), key.Format.String())
			if err != nil {
				return false, fmt.Errorf("failed to read transcode index: %w", err)
			}
			if row == nil || row.Status != media.StatusFinished || row.AudioPath == nil {
				return false, nil
			}
			_, statErr := os.Stat(*row.AudioPath)
			return statErr == nil, nil
		},
		func() error {
			if err := c.store.UpsertQueuedTranscode(key.ID.String(), key.Format.String()); err != nil {
				return fmt.Errorf("failed to queue transcode row: %w", err)
			}
			return nil
		},
		func() {
			c.transcodePool.Submit(func() { c.runTranscode(key, cell) })
		},
	)
}

// RemovedPath is one entry of a delete inventory. Reason is set when
// the file could not be removed.
type RemovedPath struct {
	Type     string  `json:"type"`
	Filename string  `json:"filename"`
	Reason   *string `json:"reason,omitempty"`
}

// DeleteOutcome reports a delete request: either the key was busy and
// nothing was touched, or the row was removed along with the artifacts
// it referenced.
type DeleteOutcome struct {
	Busy  bool
	Paths []RemovedPath
}

// DeleteDownload removes the stage-1 row and its artifacts unless the
// key is busy. The cell is held across the removal so a racing start
// cannot observe a half-deleted key; the reset is broadcast as the
// final step.
func (c *Coordinator) DeleteDownload(id media.ID) (DeleteOutcome, error) {
	cell := c.downloads.EntryOrDefault(id)
	var outcome DeleteOutcome
	var opErr error
	cell.Update(func(s *DownloadState) bool {
		if s.Status.IsBusy() {
			outcome.Busy = true
			return false
		}
		row, err := c.store.SelectDownload(id.String())
		if err != nil {
			opErr = err
			return false
		}
		if _, err := c.store.DeleteDownload(id.String()); err != nil {
			opErr = err
			return false
		}
		outcome.Paths = []RemovedPath{}
		if row != nil {
			outcome.Paths = removeArtifacts([]artifact{
				{"audio", optPath(row.AudioPath)},
				{"infojson", optPath(row.InfoJSONPath)},
				{"stdout_log", optPath(row.StdoutLogPath)},
				{"stderr_log", optPath(row.StderrLogPath)},
				{"system_log", optPath(row.SystemLogPath)},
			})
		}
		*s = DownloadState{WorkerState: newWorkerState(media.StatusNone)}
		return true
	})
	return outcome, opErr
}

// DeleteTranscode is the stage-2 counterpart of DeleteDownload.
func (c *Coordinator) DeleteTranscode(key TranscodeKey) (DeleteOutcome, error) {
	cell := c.transcodes.EntryOrDefault(key)
	var outcome DeleteOutcome
	var opErr error
	cell.Update(func(s *TranscodeState) bool {
		if s.Status.IsBusy() {
			outcome.Busy = true
			return false
		}
		row, err := c.store.SelectTranscode(key.ID.String(), key.Format.String())
		if err != nil {
			opErr = err
			return false
		}
		if _, err := c.store.DeleteTranscode(key.ID.String(), key.Format.String()); err != nil {
			opErr = err
			return false
		}
		outcome.Paths = []RemovedPath{}
		if row != nil {
			outcome.Paths = removeArtifacts([]artifact{
				{"audio", optPath(row.AudioPath)},
				{"stdout_log", optPath(row.StdoutLogPath)},
				{"stderr_log", optPath(row.StderrLogPath)},
				{"system_log", optPath(row.SystemLogPath)},
			})
		}
		*s = TranscodeState{WorkerState: newWorkerState(media.StatusNone)}
		return true
	})
	return outcome, opErr
}

// Downloads returns every stage-1 row, newest first. The slice is never
// nil so the HTTP edge encodes an empty index as [].
func (c *Coordinator) Downloads() ([]storage.Download, error) {
	rows, err := c.store.SelectDownloads()
	if rows == nil {
		rows = []storage.Download{}
	}
	return rows, err
}

// Download returns the stage-1 row for an id, or nil.
func (c *Coordinator) Download(id media.ID) (*storage.Download, error) {
	return c.store.SelectDownload(id.String())
}

// Transcodes returns every stage-2 row, newest first.
func (c *Coordinator) Transcodes() ([]storage.Transcode, error) {
	rows, err := c.store.SelectTranscodes()
	if rows == nil {
		rows = []storage.Transcode{}
	}
	return rows, err
}

// Transcode returns the stage-2 row for a key, or nil.
func (c *Coordinator) Transcode(key TranscodeKey) (*storage.Transcode, error) {
	return c.store.SelectTranscode(key.ID.String(), key.Format.String())
}

// DownloadSnapshot returns the live stage-1 state when a cell exists.
func (c *Coordinator) DownloadSnapshot(id media.ID) (DownloadState, bool) {
	cell, ok := c.downloads.Get(id)
	if !ok {
		return DownloadState{}, false
	}
	return cell.Load(), true
}

// TranscodeSnapshot returns the live stage-2 state when a cell exists.
func (c *Coordinator) TranscodeSnapshot(key TranscodeKey) (TranscodeState, bool) {
	cell, ok := c.transcodes.Get(key)
	if !ok {
		return TranscodeState{}, false
	}
	return cell.Load(), true
}

// ArtifactPath resolves the on-disk file served for an id and format.
// found is false when no finished artifact is recorded or the file is
// gone.
func (c *Coordinator) ArtifactPath(id media.ID, format media.Format) (string, bool, error) {
	var recorded *string
	if format.IsDownloadFormat() {
		row, err := c.store.SelectDownload(id.String())
		if err != nil {
			return "", false, err
		}
		if row != nil {
			recorded = row.AudioPath
		}
	} else {
		row, err := c.store.SelectTranscode(id.String(), format.String())
		if err != nil {
			return "", false, err
		}
		if row != nil {
			recorded = row.AudioPath
		}
	}
	if recorded == nil {
		return "", false, nil
	}
	if _, err := os.Stat(*recorded); err != nil {
		return "", false, nil
	}
	return *recorded, true, nil
}

type artifact struct {
	kind string
	path string
}

func removeArtifacts(artifacts []artifact) []RemovedPath {
	removed := make([]RemovedPath, 0, len(artifacts))
	for _, a := range artifacts {
		if a.path == "" {
			continue
		}
		entry := RemovedPath{Type: a.kind, Filename: filepath.Base(a.path)}
		if rmErr := os.Remove(a.path); rmErr != nil {
			reason := rmErr.Error()
			entry.Reason = &reason
		}
		removed = append(removed, entry)
	}
	return removed
}

func optPath(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
