// Package config carries the process configuration resolved from the
// command line and derives the on-disk layout every component shares.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Defaults used when a flag is left unset.
const (
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8080
	DefaultDataDir   = "data"
	DefaultStaticDir = "static"
)

// Config is resolved once at startup and treated as read-only afterwards.
type Config struct {
	Host string
	Port int

	// WorkerCount sizes the download pool, TranscodeWorkerCount the
	// transcode pool. Zero means one worker per CPU.
	WorkerCount          int
	TranscodeWorkerCount int

	DownloaderBinary string
	TranscoderBinary string

	DataDir   string
	StaticDir string

	// MetadataAPIKey enables the upstream metadata lookups when set.
	MetadataAPIKey string
}

// Normalize fills derived defaults that depend on the host machine.
func (c *Config) Normalize() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.TranscodeWorkerCount <= 0 {
		c.TranscodeWorkerCount = runtime.NumCPU()
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DownloadsDir holds stage-1 artifacts and their log files.
func (c *Config) DownloadsDir() string {
	return filepath.Join(c.DataDir, "downloads")
}

// TranscodeDir holds stage-2 artifacts and their log files.
func (c *Config) TranscodeDir() string {
	return filepath.Join(c.DataDir, "transcode")
}

// IndexPath is the embedded database file.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

// ServerLogPath is the structured log file for the process itself.
func (c *Config) ServerLogPath() string {
	return filepath.Join(c.DataDir, "server.log")
}

// SeedDirectories creates the on-disk layout so workers and the static
// file server never race over directory creation.
func (c *Config) SeedDirectories() error {
	for _, dir := range []string{c.DataDir, c.DownloadsDir(), c.TranscodeDir(), c.StaticDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
