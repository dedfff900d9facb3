package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Time is a transcoder clock value. The transcoder prints between one and
// four colon-separated components, least significant first when reading
// right to left, and only the seconds component may be fractional.
type Time struct {
	Days    int
	Hours   int
	Minutes int
	Seconds float64
}

// ParseTime decodes forms like "3", "0.000000", "00:03:45.00" and
// "1:02:03:04.5" (days:hours:minutes:seconds).
func ParseTime(s string) (Time, error) {
	parts := strings.Split(s, ":")
	if len(parts) == 0 || len(parts) > 4 {
		return Time{}, fmt.Errorf("invalid time %q: expected 1 to 4 components", s)
	}

	var t Time
	seconds, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return Time{}, fmt.Errorf("invalid seconds in %q: %w", s, err)
	}
	t.Seconds = seconds

	fields := []*int{&t.Minutes, &t.Hours, &t.Days}
	for i := 0; i < len(parts)-1; i++ {
		v, err := strconv.Atoi(parts[len(parts)-2-i])
		if err != nil {
			return Time{}, fmt.Errorf("invalid time component in %q: %w", s, err)
		}
		*fields[i] = v
	}
	return t, nil
}

// ToMilliseconds flattens the clock to integer milliseconds.
func (t Time) ToMilliseconds() int64 {
	ms := int64(t.Seconds * 1000)
	ms += int64(t.Minutes) * 1000 * 60
	ms += int64(t.Hours) * 1000 * 60 * 60
	ms += int64(t.Days) * 1000 * 60 * 60 * 24
	return ms
}

// ToMicroseconds flattens the clock to integer microseconds.
func (t Time) ToMicroseconds() int64 {
	us := int64(t.Seconds * 1_000_000)
	us += int64(t.Minutes) * 1_000_000 * 60
	us += int64(t.Hours) * 1_000_000 * 60 * 60
	us += int64(t.Days) * 1_000_000 * 60 * 60 * 24
	return us
}
