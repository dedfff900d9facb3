package worker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"project-vinyl/internal/cache"
	"project-vinyl/internal/filesystem"
	"project-vinyl/internal/media"
	"project-vinyl/internal/proc"
	"project-vinyl/internal/ytdlp"
)

// runDownload is the stage-1 worker body. It runs on a pool goroutine
// after tryStartStage moved the cell to Queued, and always leaves the
// cell in Finished or Failed with the index committed first.
func (c *Coordinator) runDownload(id media.ID, cell *cache.Cell[DownloadState]) {
	runID := uuid.New().String()
	log := c.log.With("component", "download_worker", "video_id", id.String(), "run_id", runID)

	audioPath, err := c.downloadBody(id, cell, runID, log)
	if err == nil {
		if dbErr := c.store.UpdateDownloadFields(id.String(), map[string]interface{}{
			"status":     media.StatusFinished,
			"audio_path": audioPath,
			"unix_time":  time.Now().Unix(),
		}); dbErr != nil {
			err = fmt.Errorf("failed to commit finished row: %w", dbErr)
		}
	}
	if err != nil {
		log.Error("download failed", "error", err)
		if dbErr := c.store.UpdateDownloadFields(id.String(), map[string]interface{}{
			"status":     media.StatusFailed,
			"audio_path": nil,
			"unix_time":  time.Now().Unix(),
		}); dbErr != nil {
			log.Error("failed to commit failed row", "error", dbErr)
		}
		reason := err.Error()
		cell.Update(func(s *DownloadState) bool {
			s.Status = media.StatusFailed
			s.FailReason = &reason
			s.EndTimeUnix = time.Now().Unix()
			return true
		})
		return
	}

	log.Info("download finished", "audio_path", audioPath)
	cell.Update(func(s *DownloadState) bool {
		s.Status = media.StatusFinished
		s.FailReason = nil
		s.EndTimeUnix = time.Now().Unix()
		return true
	})
}

// downloadBody runs the subprocess and returns the artifact path. The
// system log is closed before returning so the terminal commit in
// runDownload happens after all log files are complete.
func (c *Coordinator) downloadBody(id media.ID, cell *cache.Cell[DownloadState], runID string, log *slog.Logger) (string, error) {
	key := id.String()
	dir := c.cfg.DownloadsDir()
	audioPath := filepath.Join(dir, key+"."+media.DownloadFormat.String())

	if err := filesystem.EnsureFreeSpace(dir, filesystem.DefaultReserve); err != nil {
		return "", err
	}

	sysPath := filepath.Join(dir, key+".system.log")
	sysLog, err := proc.CreateSystemLog(sysPath)
	if err != nil {
		return "", err
	}
	defer sysLog.Close()

	// Log paths land in the row before the first byte is written, so
	// a reader following the row never misses in-flight diagnostics.
	stdoutPath := filepath.Join(dir, key+".stdout.log")
	stderrPath := filepath.Join(dir, key+".stderr.log")
	if err := c.store.UpdateDownloadFields(key, map[string]interface{}{
		"system_log_path": sysPath,
		"stdout_log_path": stdoutPath,
		"stderr_log_path": stderrPath,
	}); err != nil {
		return "", fmt.Errorf("failed to record log paths: %w", err)
	}
	sysLog.Printf("[info] run %s: downloading %s", runID, ytdlp.WatchURL(key))

	// The final path printed by the downloader wins over the expected
	// one; post-processing can change the container it lands in.
	var capturedMu sync.Mutex
	var capturedPath string

	runErr := proc.Run(proc.Command{
		Name:          "ytdlp",
		Binary:        c.cfg.DownloaderBinary,
		Args:          ytdlp.DownloadArgs(key, media.DownloadFormat.String(), audioPath),
		StdoutLogPath: stdoutPath,
		StderrLogPath: stderrPath,
		SystemLog:     sysLog,
		OnStarted: func() {
			if err := c.store.UpdateDownloadStatus(key, media.StatusRunning); err != nil {
				log.Warn("failed to record running status", "error", err)
			}
			cell.Update(func(s *DownloadState) bool {
				s.Status = media.StatusRunning
				return true
			})
		},
		OnStdoutLine: func(line string) error {
			switch event := ytdlp.ParseStdoutLine(line).(type) {
			case ytdlp.DownloadProgress:
				cell.Update(func(s *DownloadState) bool {
					s.mergeProgress(event)
					return false
				})
			case ytdlp.OutputPath:
				capturedMu.Lock()
				capturedPath = string(event)
				capturedMu.Unlock()
			case ytdlp.InfoJSONPath:
				if err := c.store.UpdateDownloadFields(key, map[string]interface{}{
					"infojson_path": string(event),
				}); err != nil {
					log.Warn("failed to record infojson path", "error", err)
				}
			}
			return nil
		},
		OnStderrLine: func(line string) error {
			switch event := ytdlp.ParseStderrLine(line).(type) {
			case ytdlp.MissingContent:
				return ErrInvalidContent
			case ytdlp.UsageError:
				return &UsageError{Message: event.Message}
			}
			return nil
		},
	})
	if runErr != nil {
		sysLog.Printf("[error] run %s: %v", runID, runErr)
		return "", runErr
	}

	capturedMu.Lock()
	result := capturedPath
	capturedMu.Unlock()
	if result == "" {
		result = audioPath
	}
	if _, err := os.Stat(result); err != nil {
		sysLog.Printf("[error] run %s: no artifact at %s", runID, result)
		return "", &MissingOutputFileError{Path: result}
	}
	sysLog.Printf("[info] run %s: artifact at %s", runID, result)
	return result, nil
}
