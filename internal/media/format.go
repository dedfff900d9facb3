package media

import (
	"encoding/json"
	"fmt"
)

// Format is the closed set of audio container/codec targets. Its lowercase
// string form doubles as the artifact file suffix.
type Format int

const (
	FormatM4A Format = iota
	FormatAAC
	FormatMP3
	FormatWEBM
)

// DownloadFormat is the container the downloader produces natively.
// Requests for it skip the transcode stage entirely.
const DownloadFormat = FormatM4A

// IsDownloadFormat reports whether requesting f needs no transcode.
func (f Format) IsDownloadFormat() bool {
	return f == DownloadFormat
}

var formatNames = map[Format]string{
	FormatM4A:  "m4a",
	FormatAAC:  "aac",
	FormatMP3:  "mp3",
	FormatWEBM: "webm",
}

// ParseFormat maps the canonical lowercase encoding back to a Format.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("invalid audio format: %q", s)
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// MarshalJSON encodes the format as its canonical string.
func (f Format) MarshalJSON() ([]byte, error) {
	name, ok := formatNames[f]
	if !ok {
		return nil, fmt.Errorf("invalid audio format value: %d", int(f))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes the canonical string form.
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
