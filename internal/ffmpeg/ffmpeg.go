// Package ffmpeg decodes the transcoder's stderr stream into typed
// events: the per-input source info banner and the periodic progress
// status line.
package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
)

// byteUnitMultiplier resolves the transcoder's size suffixes. The iB
// forms are binary multiples, the B forms decimal.
func byteUnitMultiplier(unit string) (int64, bool) {
	switch unit {
	case "B":
		return 1, true
	case "KiB":
		return 1024, true
	case "MiB":
		return 1024 * 1024, true
	case "GiB":
		return 1024 * 1024 * 1024, true
	case "kB", "KB":
		return 1000, true
	case "MB":
		return 1000 * 1000, true
	case "GB":
		return 1000 * 1000 * 1000, true
	}
	return 0, false
}

// bitUnitMultiplier resolves bitrate suffixes, long form ("kbits") on
// progress lines and short form ("kb") on source info banners. Both are
// decimal multiples.
func bitUnitMultiplier(unit string) (int64, bool) {
	switch unit {
	case "bits", "b":
		return 1, true
	case "kbits", "kb":
		return 1_000, true
	case "Mbits", "Mb":
		return 1_000_000, true
	case "Gbits", "Gb":
		return 1_000_000_000, true
	}
	return 0, false
}

// TranscodeArgs builds the transcoder invocation. The -progress stream
// on stdout is enabled for the log only; event parsing happens on
// stderr. extraArgs inject per-format options ahead of the output path.
func TranscodeArgs(sourcePath, destPath string, extraArgs []string) []string {
	args := []string{"-i", sourcePath, "-progress", "-", "-y"}
	args = append(args, extraArgs...)
	return append(args, destPath)
}

// StderrLine is one parsed transcoder stderr event.
type StderrLine interface {
	stderrLine()
}

// TranscodeProgress is the periodic status line. Fields that failed to
// decode are nil; the grammar leaves units attached to size and bitrate.
type TranscodeProgress struct {
	Frame               *int64
	FPS                 *float64
	QFactor             *float64
	SizeBytes           *int64
	TotalTimeTranscoded *Time
	SpeedBits           *int64
	SpeedFactor         *float64
}

// TranscodeSourceInfo is the per-input banner printed before transcoding
// starts. The transcoder prints one per input stream.
type TranscodeSourceInfo struct {
	Duration  *Time
	StartTime *Time
	SpeedBits *int64
}

func (TranscodeProgress) stderrLine()   {}
func (TranscodeSourceInfo) stderrLine() {}

const (
	floatPattern = `-?\d+(?:\.\d+)?`
	timePattern  = `-?(?:\d+:)*\d+(?:\.\d+)?`
)

var (
	progressRegex = regexp.MustCompile(
		`frame\s*=\s*(\d+)\s+fps\s*=\s*(` + floatPattern + `)\s+q\s*=\s*(` + floatPattern + `)` +
			`\s+size\s*=\s*(\d+)([kKMG]i?B)\s+time\s*=\s*(` + timePattern + `)` +
			`\s+bitrate\s*=\s*(` + floatPattern + `)([kMG]?bits)/s\s+speed\s*=\s*(` + floatPattern + `)\s*x`)
	sourceInfoRegex = regexp.MustCompile(
		`Duration:\s*(` + timePattern + `),\s*start:\s*(` + timePattern + `),\s*bitrate:\s*(` + floatPattern + `)\s*([kMG]?b)/s`)
)

// ParseStderrLine decodes one stderr line. Returns nil for lines that
// carry no event; every raw line still lands in the stderr log.
func ParseStderrLine(line string) StderrLine {
	line = strings.TrimSpace(line)
	if m := progressRegex.FindStringSubmatch(line); m != nil {
		return TranscodeProgress{
			Frame:               parseIntField(m[1]),
			FPS:                 parseFloatField(m[2]),
			QFactor:             parseFloatField(m[3]),
			SizeBytes:           parseSized(m[4], m[5], byteUnitMultiplier),
			TotalTimeTranscoded: parseTimeField(m[6]),
			SpeedBits:           parseSized(m[7], m[8], bitUnitMultiplier),
			SpeedFactor:         parseFloatField(m[9]),
		}
	}
	if m := sourceInfoRegex.FindStringSubmatch(line); m != nil {
		return TranscodeSourceInfo{
			Duration:  parseTimeField(m[1]),
			StartTime: parseTimeField(m[2]),
			SpeedBits: parseSized(m[3], m[4], bitUnitMultiplier),
		}
	}
	return nil
}

func parseIntField(s string) *int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseFloatField(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseTimeField(s string) *Time {
	t, err := ParseTime(s)
	if err != nil {
		return nil
	}
	return &t
}

func parseSized(value, unit string, multiplier func(string) (int64, bool)) *int64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	m, ok := multiplier(unit)
	if !ok {
		return nil
	}
	total := int64(v * float64(m))
	return &total
}
