// Package ytdlp decodes the downloader's output streams into typed events.
// The stdout grammar is pinned by the template directives passed at spawn
// time, so those lines are parsed by exact prefix; stderr is free-form and
// is matched against the two load-bearing diagnostic shapes.
package ytdlp

import (
	"regexp"
	"strconv"
	"strings"
)

// Template directives handed to the downloader so its stdout grammar
// cannot drift between releases.
const (
	// ProgressTemplate pins the periodic progress line.
	ProgressTemplate = "download:" + progressPrefix +
		" eta=%(progress.eta)d,elapsed=%(progress.elapsed)d,downloaded_bytes=%(progress.downloaded_bytes)d,total_bytes=%(progress.total_bytes)d,speed=%(progress.speed)d"
	// AfterMoveTemplate prints the final artifact path once the file has
	// been moved into place.
	AfterMoveTemplate = "after_move:" + afterMovePrefix + " %(filepath)s"
)

const (
	progressPrefix  = "@[progress]"
	afterMovePrefix = "@[after-move-path]"
	infoJSONPrefix  = "[info] Writing video metadata as JSON to:"
)

// WatchURL derives the public watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// DownloadArgs builds the downloader invocation for one video. The
// --print directive implies quiet mode, so --progress is passed
// explicitly to keep the template-pinned progress lines flowing.
func DownloadArgs(videoID, audioFormat, outputPath string) []string {
	return []string{
		WatchURL(videoID),
		"-x",
		"--audio-format", audioFormat,
		"--write-info-json",
		"--progress",
		"--progress-template", ProgressTemplate,
		"--print", AfterMoveTemplate,
		"--output", outputPath,
	}
}

// StdoutLine is one parsed downloader stdout event.
type StdoutLine interface {
	stdoutLine()
}

// DownloadProgress carries the template-pinned progress counters. Fields
// the downloader reported as unknown are nil.
type DownloadProgress struct {
	ETASeconds      *int64
	ElapsedSeconds  *int64
	DownloadedBytes *int64
	TotalBytes      *int64
	SpeedBytes      *int64
}

// OutputPath is the downloader's final artifact path.
type OutputPath string

// InfoJSONPath is the sidecar metadata file the downloader wrote.
type InfoJSONPath string

func (DownloadProgress) stdoutLine() {}
func (OutputPath) stdoutLine()       {}
func (InfoJSONPath) stdoutLine()     {}

// ParseStdoutLine decodes one stdout line. Returns nil for lines that
// carry no event.
func ParseStdoutLine(line string) StdoutLine {
	line = strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(line, progressPrefix); ok {
		return parseProgress(rest)
	}
	if rest, ok := strings.CutPrefix(line, afterMovePrefix); ok {
		if path := strings.TrimSpace(rest); path != "" {
			return OutputPath(path)
		}
		return nil
	}
	if rest, ok := strings.CutPrefix(line, infoJSONPrefix); ok {
		if path := strings.TrimSpace(rest); path != "" {
			return InfoJSONPath(path)
		}
		return nil
	}
	return nil
}

func parseProgress(rest string) DownloadProgress {
	var progress DownloadProgress
	for _, pair := range strings.Split(strings.TrimSpace(rest), ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "eta":
			progress.ETASeconds = parseClockSeconds(value)
		case "elapsed":
			progress.ElapsedSeconds = parseInt(value)
		case "downloaded_bytes":
			progress.DownloadedBytes = parseInt(value)
		case "total_bytes":
			progress.TotalBytes = parseInt(value)
		case "speed":
			progress.SpeedBytes = parseInt(value)
		}
	}
	return progress
}

// parseInt reads an integer counter; the downloader renders unknown
// values as "NA" and occasionally emits floats through the %d directive.
func parseInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		v := int64(f)
		return &v
	}
	return nil
}

// parseClockSeconds reads either plain seconds or a colon clock form
// (up to days:hours:minutes:seconds), normalizing to seconds.
func parseClockSeconds(s string) *int64 {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		return parseInt(s)
	}
	parts := strings.Split(s, ":")
	if len(parts) > 4 {
		return nil
	}
	var total int64
	multipliers := [...]int64{1, 60, 60 * 60, 24 * 60 * 60}
	for i := 0; i < len(parts); i++ {
		v, err := strconv.ParseInt(parts[len(parts)-1-i], 10, 64)
		if err != nil {
			return nil
		}
		total += v * multipliers[i]
	}
	return &total
}

// StderrLine is one parsed downloader stderr event.
type StderrLine interface {
	stderrLine()
}

// UsageError reports the downloader rejecting its own invocation.
type UsageError struct {
	Message string
}

// MissingContent reports the upstream source rejecting the identifier.
type MissingContent struct {
	ID string
}

func (UsageError) stderrLine()     {}
func (MissingContent) stderrLine() {}

var (
	usageErrorRegex     = regexp.MustCompile(`^yt-dlp(?:\.exe)?:\s+error:\s+(.+)$`)
	missingContentRegex = regexp.MustCompile(`^ERROR:\s+\[youtube\]\s+([A-Za-z0-9_-]+):\s+Video unavailable`)
)

// ParseStderrLine decodes one stderr line. Returns nil for lines that
// carry no event; those still land in the stderr log verbatim.
func ParseStderrLine(line string) StderrLine {
	line = strings.TrimSpace(line)
	if m := usageErrorRegex.FindStringSubmatch(line); m != nil {
		return UsageError{Message: m[1]}
	}
	if m := missingContentRegex.FindStringSubmatch(line); m != nil {
		return MissingContent{ID: m[1]}
	}
	return nil
}
