package worker

import (
	"time"

	"project-vinyl/internal/ffmpeg"
	"project-vinyl/internal/media"
	"project-vinyl/internal/ytdlp"
)

// TranscodeKey identifies one stage-2 task.
type TranscodeKey struct {
	ID     media.ID
	Format media.Format
}

func (k TranscodeKey) String() string {
	return k.ID.String() + "." + k.Format.String()
}

// WorkerState is the shared portion of a cell's live state. Progress
// fields are stage-specific and live in the embedding structs; they are
// nil until the subprocess reports them.
type WorkerState struct {
	Status        media.WorkerStatus `json:"worker_status"`
	FailReason    *string            `json:"fail_reason"`
	StartTimeUnix int64              `json:"start_time_unix"`
	EndTimeUnix   int64              `json:"end_time_unix"`
}

func newWorkerState(status media.WorkerStatus) WorkerState {
	now := time.Now().Unix()
	return WorkerState{Status: status, StartTimeUnix: now, EndTimeUnix: now}
}

// DownloadState is the live state of one stage-1 task.
type DownloadState struct {
	WorkerState
	ETASeconds      *int64 `json:"eta_seconds"`
	ElapsedSeconds  *int64 `json:"elapsed_seconds"`
	DownloadedBytes *int64 `json:"downloaded_bytes"`
	TotalBytes      *int64 `json:"total_bytes"`
	SpeedBytes      *int64 `json:"speed_bytes"`
}

// mergeProgress folds a progress event into the state. Fields arrive
// independently so each non-nil value replaces the last one seen.
func (s *DownloadState) mergeProgress(p ytdlp.DownloadProgress) {
	s.EndTimeUnix = time.Now().Unix()
	if p.ETASeconds != nil {
		s.ETASeconds = p.ETASeconds
	}
	if p.ElapsedSeconds != nil {
		s.ElapsedSeconds = p.ElapsedSeconds
	}
	if p.DownloadedBytes != nil {
		s.DownloadedBytes = p.DownloadedBytes
	}
	if p.TotalBytes != nil {
		s.TotalBytes = p.TotalBytes
	}
	if p.SpeedBytes != nil {
		s.SpeedBytes = p.SpeedBytes
	}
}

// TranscodeState is the live state of one stage-2 task.
type TranscodeState struct {
	WorkerState
	FPS                  *float64 `json:"fps"`
	QFactor              *float64 `json:"q_factor"`
	SizeBytes            *int64   `json:"size_bytes"`
	TimeTranscodedMicros *int64   `json:"time_transcoded_microseconds"`
	SpeedBits            *int64   `json:"speed_bits"`
	SpeedFactor          *float64 `json:"speed_factor"`
	SourceDurationMicros *int64   `json:"source_duration_microseconds"`
	SourceStartMicros    *int64   `json:"source_start_microseconds"`
	SourceBitrateBits    *int64   `json:"source_bitrate_bits"`
}

// mergeProgress folds a progress event into the state. The transcoder
// also reports frames for auxiliary streams such as embedded cover art;
// only frame 0 lines describe the primary audio stream, the rest are
// dropped here.
func (s *TranscodeState) mergeProgress(p ffmpeg.TranscodeProgress) {
	if p.Frame == nil || *p.Frame != 0 {
		return
	}
	s.EndTimeUnix = time.Now().Unix()
	if p.FPS != nil {
		s.FPS = p.FPS
	}
	if p.QFactor != nil {
		s.QFactor = p.QFactor
	}
	if p.SizeBytes != nil {
		s.SizeBytes = p.SizeBytes
	}
	if p.TotalTimeTranscoded != nil {
		micros := p.TotalTimeTranscoded.ToMicroseconds()
		s.TimeTranscodedMicros = &micros
	}
	if p.SpeedBits != nil {
		s.SpeedBits = p.SpeedBits
	}
	if p.SpeedFactor != nil {
		s.SpeedFactor = p.SpeedFactor
	}
}

// mergeSourceInfo records the source stream description. The transcoder
// prints one line per input, including short auxiliary inputs like a
// thumbnail; the longest duration seen wins since that is the primary
// audio stream.
func (s *TranscodeState) mergeSourceInfo(info ffmpeg.TranscodeSourceInfo) {
	if info.Duration == nil {
		return
	}
	micros := info.Duration.ToMicroseconds()
	if s.SourceDurationMicros != nil && *s.SourceDurationMicros >= micros {
		return
	}
	s.EndTimeUnix = time.Now().Unix()
	s.SourceDurationMicros = &micros
	s.SourceStartMicros = nil
	if info.StartTime != nil {
		start := info.StartTime.ToMicroseconds()
		s.SourceStartMicros = &start
	}
	s.SourceBitrateBits = info.SpeedBits
}
