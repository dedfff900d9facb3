package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"project-vinyl/internal/media"
)

// Store handles all database operations using SQLite
type Store struct {
	DB *gorm.DB
}

// Open initializes the SQLite database at the given path
func Open(dbPath string) (*Store, error) {
	// Open SQLite with Glebarez (Pure Go, no CGO)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA cache_size=10000;")

	// Auto-migrate tables
	err = db.AutoMigrate(
		&Download{},
		&Transcode{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint forces a WAL checkpoint to ensure durability
func (s *Store) Checkpoint() error {
	return s.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error
}

// RecoverStaleRows resets rows left queued or running by a previous
// process to none so their tasks can be started again. Returns the
// number of rows reset across both tables.
func (s *Store) RecoverStaleRows() (int64, error) {
	busy := []media.WorkerStatus{media.StatusQueued, media.StatusRunning}
	reset := map[string]interface{}{
		"status":    media.StatusNone,
		"unix_time": time.Now().Unix(),
	}

	downloads := s.DB.Model(&Download{}).Where("status IN ?", busy).Updates(reset)
	if downloads.Error != nil {
		return 0, downloads.Error
	}
	transcodes := s.DB.Model(&Transcode{}).Where("status IN ?", busy).Updates(reset)
	if transcodes.Error != nil {
		return downloads.RowsAffected, transcodes.Error
	}
	return downloads.RowsAffected + transcodes.RowsAffected, nil
}

// ============= Downloads =============

// UpsertQueuedDownload creates or replaces the row for a video id,
// resetting every column except the key and marking it queued.
func (s *Store) UpsertQueuedDownload(videoID string) error {
	row := Download{
		VideoID:  videoID,
		Status:   media.StatusQueued,
		UnixTime: time.Now().Unix(),
	}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// UpdateDownloadStatus updates the status and bumps the row timestamp
func (s *Store) UpdateDownloadStatus(videoID string, status media.WorkerStatus) error {
	return s.DB.Model(&Download{}).Where("video_id = ?", videoID).Updates(map[string]interface{}{
		"status":    status,
		"unix_time": time.Now().Unix(),
	}).Error
}

// UpdateDownloadFields updates arbitrary columns for a download row
func (s *Store) UpdateDownloadFields(videoID string, fields map[string]interface{}) error {
	return s.DB.Model(&Download{}).Where("video_id = ?", videoID).Updates(fields).Error
}

// SelectDownload retrieves a download row, or nil when absent
func (s *Store) SelectDownload(videoID string) (*Download, error) {
	var row Download
	err := s.DB.First(&row, "video_id = ?", videoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SelectDownloads returns all download rows, newest first
func (s *Store) SelectDownloads() ([]Download, error) {
	var rows []Download
	err := s.DB.Order("unix_time desc").Find(&rows).Error
	return rows, err
}

// DeleteDownload removes a download row, reporting how many rows matched
func (s *Store) DeleteDownload(videoID string) (int64, error) {
	result := s.DB.Delete(&Download{}, "video_id = ?", videoID)
	return result.RowsAffected, result.Error
}

// ============= Transcodes =============

// UpsertQueuedTranscode creates or replaces the row for a transcode
// key, resetting every column except the key and marking it queued.
func (s *Store) UpsertQueuedTranscode(videoID, audioExt string) error {
	row := Transcode{
		VideoID:  videoID,
		AudioExt: audioExt,
		Status:   media.StatusQueued,
		UnixTime: time.Now().Unix(),
	}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}, {Name: "audio_ext"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// UpdateTranscodeStatus updates the status and bumps the row timestamp
func (s *Store) UpdateTranscodeStatus(videoID, audioExt string, status media.WorkerStatus) error {
	return s.DB.Model(&Transcode{}).
		Where("video_id = ? AND audio_ext = ?", videoID, audioExt).
		Updates(map[string]interface{}{
			"status":    status,
			"unix_time": time.Now().Unix(),
		}).Error
}

// UpdateTranscodeFields updates arbitrary columns for a transcode row
func (s *Store) UpdateTranscodeFields(videoID, audioExt string, fields map[string]interface{}) error {
	return s.DB.Model(&Transcode{}).
		Where("video_id = ? AND audio_ext = ?", videoID, audioExt).
		Updates(fields).Error
}

// SelectTranscode retrieves a transcode row, or nil when absent
func (s *Store) SelectTranscode(videoID, audioExt string) (*Transcode, error) {
	var row Transcode
	err := s.DB.First(&row, "video_id = ? AND audio_ext = ?", videoID, audioExt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SelectTranscodes returns all transcode rows, newest first
func (s *Store) SelectTranscodes() ([]Transcode, error) {
	var rows []Transcode
	err := s.DB.Order("unix_time desc").Find(&rows).Error
	return rows, err
}

// DeleteTranscode removes a transcode row, reporting how many rows matched
func (s *Store) DeleteTranscode(videoID, audioExt string) (int64, error) {
	result := s.DB.Delete(&Transcode{}, "video_id = ? AND audio_ext = ?", videoID, audioExt)
	return result.RowsAffected, result.Error
}
