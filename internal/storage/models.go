package storage

import (
	"project-vinyl/internal/media"
)

// Download is the persisted record of one stage-1 download. There is at
// most one row per video id; the audio container is always the
// downloader's native m4a.
type Download struct {
	VideoID       string             `gorm:"primaryKey;column:video_id" json:"video_id"`
	Status        media.WorkerStatus `gorm:"column:status;default:0" json:"status"`
	UnixTime      int64              `gorm:"column:unix_time" json:"unix_time"`
	InfoJSONPath  *string            `gorm:"column:infojson_path" json:"infojson_path"`
	StdoutLogPath *string            `gorm:"column:stdout_log_path" json:"stdout_log_path"`
	StderrLogPath *string            `gorm:"column:stderr_log_path" json:"stderr_log_path"`
	SystemLogPath *string            `gorm:"column:system_log_path" json:"system_log_path"`
	AudioPath     *string            `gorm:"column:audio_path" json:"audio_path"`
}

// TableName specifies the table name for Download
func (Download) TableName() string {
	return "downloads"
}

// Transcode is the persisted record of one stage-2 transcode, keyed by
// video id and target extension.
type Transcode struct {
	VideoID       string             `gorm:"primaryKey;column:video_id" json:"video_id"`
	AudioExt      string             `gorm:"primaryKey;column:audio_ext" json:"audio_ext"`
	Status        media.WorkerStatus `gorm:"column:status;default:0" json:"status"`
	UnixTime      int64              `gorm:"column:unix_time" json:"unix_time"`
	StdoutLogPath *string            `gorm:"column:stdout_log_path" json:"stdout_log_path"`
	StderrLogPath *string            `gorm:"column:stderr_log_path" json:"stderr_log_path"`
	SystemLogPath *string            `gorm:"column:system_log_path" json:"system_log_path"`
	AudioPath     *string            `gorm:"column:audio_path" json:"audio_path"`
}

// TableName specifies the table name for Transcode
func (Transcode) TableName() string {
	return "transcodes"
}
