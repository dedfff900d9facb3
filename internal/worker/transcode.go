package worker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"project-vinyl/internal/cache"
	"project-vinyl/internal/ffmpeg"
	"project-vinyl/internal/filesystem"
	"project-vinyl/internal/media"
	"project-vinyl/internal/proc"
)

// formatArgs injects per-format output options ahead of the destination
// path. m4a is the downloader's native container and never reaches here.
func formatArgs(f media.Format) []string {
	switch f {
	case media.FormatMP3:
		return []string{"-id3v2_version", "3"}
	case media.FormatAAC:
		return []string{"-vn", "-acodec", "copy"}
	case media.FormatWEBM:
		return []string{"-vn", "-acodec", "libopus"}
	}
	return nil
}

// runTranscode is the stage-2 worker body. It blocks until the matching
// download reaches a terminal state, then transcodes its artifact and
// commits a terminal of its own, index first.
func (c *Coordinator) runTranscode(key TranscodeKey, cell *cache.Cell[TranscodeState]) {
	runID := uuid.New().String()
	log := c.log.With("component", "transcode_worker",
		"video_id", key.ID.String(), "audio_ext", key.Format.String(), "run_id", runID)

	audioPath, err := c.transcodeBody(key, cell, runID, log)
	if err == nil {
		if dbErr := c.store.UpdateTranscodeFields(key.ID.String(), key.Format.String(), map[string]interface{}{
			"status":     media.StatusFinished,
			"audio_path": audioPath,
			"unix_time":  time.Now().Unix(),
		}); dbErr != nil {
			err = fmt.Errorf("failed to commit finished row: %w", dbErr)
		}
	}
	if err != nil {
		log.Error("transcode failed", "error", err)
		if dbErr := c.store.UpdateTranscodeFields(key.ID.String(), key.Format.String(), map[string]interface{}{
			"status":     media.StatusFailed,
			"audio_path": nil,
			"unix_time":  time.Now().Unix(),
		}); dbErr != nil {
			log.Error("failed to commit failed row", "error", dbErr)
		}
		reason := err.Error()
		cell.Update(func(s *TranscodeState) bool {
			s.Status = media.StatusFailed
			s.FailReason = &reason
			s.EndTimeUnix = time.Now().Unix()
			return true
		})
		return
	}

	log.Info("transcode finished", "audio_path", audioPath)
	cell.Update(func(s *TranscodeState) bool {
		s.Status = media.StatusFinished
		s.FailReason = nil
		s.EndTimeUnix = time.Now().Unix()
		return true
	})
}

func (c *Coordinator) transcodeBody(key TranscodeKey, cell *cache.Cell[TranscodeState], runID string, log *slog.Logger) (string, error) {
	// The download cell pointer is taken from the map before any inner
	// lock is acquired; WaitUntil only ever holds that one cell's mutex.
	downloadCell := c.downloads.EntryOrDefault(key.ID)
	log.Info("waiting on download worker")
	observed := downloadCell.WaitUntil(func(s DownloadState) bool {
		return !s.Status.IsBusy() && s.Status != media.StatusNone
	})
	if observed.Status != media.StatusFinished {
		return "", ErrDownloadWorkerFailed
	}

	row, err := c.store.SelectDownload(key.ID.String())
	if err != nil {
		return "", fmt.Errorf("failed to read download index: %w", err)
	}
	if row == nil || row.AudioPath == nil {
		return "", ErrDownloadPathMissing
	}
	sourcePath := *row.AudioPath
	if _, err := os.Stat(sourcePath); err != nil {
		return "", &DownloadFileMissingError{Path: sourcePath}
	}

	dir := c.cfg.TranscodeDir()
	if err := filesystem.EnsureFreeSpace(dir, filesystem.DefaultReserve); err != nil {
		return "", err
	}

	sysPath := filepath.Join(dir, key.String()+".system.log")
	sysLog, err := proc.CreateSystemLog(sysPath)
	if err != nil {
		return "", err
	}
	defer sysLog.Close()

	stdoutPath := filepath.Join(dir, key.String()+".stdout.log")
	stderrPath := filepath.Join(dir, key.String()+".stderr.log")
	if err := c.store.UpdateTranscodeFields(key.ID.String(), key.Format.String(), map[string]interface{}{
		"system_log_path": sysPath,
		"stdout_log_path": stdoutPath,
		"stderr_log_path": stderrPath,
	}); err != nil {
		return "", fmt.Errorf("failed to record log paths: %w", err)
	}
	sysLog.Printf("[info] run %s: transcoding %s", runID, sourcePath)

	audioPath := filepath.Join(dir, key.String())
	runErr := proc.Run(proc.Command{
		Name:          "ffmpeg",
		Binary:        c.cfg.TranscoderBinary,
		Args:          ffmpeg.TranscodeArgs(sourcePath, audioPath, formatArgs(key.Format)),
		StdoutLogPath: stdoutPath,
		StderrLogPath: stderrPath,
		SystemLog:     sysLog,
		OnStarted: func() {
			if err := c.store.UpdateTranscodeStatus(key.ID.String(), key.Format.String(), media.StatusRunning); err != nil {
				log.Warn("failed to record running status", "error", err)
			}
			cell.Update(func(s *TranscodeState) bool {
				s.Status = media.StatusRunning
				return true
			})
		},
		// The -progress stream on stdout lands in the log only; events
		// are scraped from stderr.
		OnStderrLine: func(line string) error {
			switch event := ffmpeg.ParseStderrLine(line).(type) {
			case ffmpeg.TranscodeProgress:
				cell.Update(func(s *TranscodeState) bool {
					s.mergeProgress(event)
					return false
				})
			case ffmpeg.TranscodeSourceInfo:
				cell.Update(func(s *TranscodeState) bool {
					s.mergeSourceInfo(event)
					return false
				})
			}
			return nil
		},
	})
	if runErr != nil {
		sysLog.Printf("[error] run %s: %v", runID, runErr)
		return "", runErr
	}

	if _, err := os.Stat(audioPath); err != nil {
		sysLog.Printf("[error] run %s: no artifact at %s", runID, audioPath)
		return "", &MissingOutputFileError{Path: audioPath}
	}
	sysLog.Printf("[info] run %s: artifact at %s", runID, audioPath)
	return audioPath, nil
}
