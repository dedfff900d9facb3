package media

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseID(t *testing.T) {
	id, err := ParseID("dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("ParseID rejected a valid id: %v", err)
	}
	if id.String() != "dQw4w9WgXcQ" {
		t.Errorf("ParseID mangled the id: got %q", id.String())
	}

	// ids with the full charset
	if _, err := ParseID("a-b_C9zZ0Y1"); err != nil {
		t.Errorf("ParseID rejected charset edge id: %v", err)
	}
}

func TestParseIDLength(t *testing.T) {
	_, err := ParseID("short")
	var lenErr *InvalidLengthError
	if !errors.As(err, &lenErr) {
		t.Fatalf("expected InvalidLengthError, got %v", err)
	}
	if lenErr.Expected != IDLength || lenErr.Given != 5 {
		t.Errorf("wrong length fields: expected=%d given=%d", lenErr.Expected, lenErr.Given)
	}

	if _, err := ParseID("twelvechars!"); err == nil {
		t.Error("ParseID accepted a 12-char id")
	}
}

func TestParseIDCharset(t *testing.T) {
	_, err := ParseID("dQw4w9Wg.cQ")
	var charErr *InvalidCharacterError
	if !errors.As(err, &charErr) {
		t.Fatalf("expected InvalidCharacterError, got %v", err)
	}
	if charErr.Index != 8 || charErr.Char != '.' {
		t.Errorf("wrong character fields: index=%d char=%q", charErr.Index, charErr.Char)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatM4A, FormatAAC, FormatMP3, FormatWEBM} {
		parsed, err := ParseFormat(f.String())
		if err != nil {
			t.Fatalf("ParseFormat(%q) failed: %v", f.String(), err)
		}
		if parsed != f {
			t.Errorf("round trip changed %v to %v", f, parsed)
		}
	}

	if _, err := ParseFormat("flac"); err == nil {
		t.Error("ParseFormat accepted an unknown format")
	}
	if _, err := ParseFormat("M4A"); err == nil {
		t.Error("ParseFormat accepted an uppercase format")
	}
}

func TestWorkerStatusCodec(t *testing.T) {
	// Persisted integer values are part of the on-disk index contract.
	wantInts := map[WorkerStatus]int{
		StatusNone:     0,
		StatusQueued:   1,
		StatusRunning:  2,
		StatusFinished: 3,
		StatusFailed:   4,
	}
	for s, v := range wantInts {
		if int(s) != v {
			t.Errorf("status %v has int value %d, want %d", s, int(s), v)
		}
		decoded, err := StatusFromInt(v)
		if err != nil || decoded != s {
			t.Errorf("StatusFromInt(%d) = %v, %v", v, decoded, err)
		}
	}

	if _, err := StatusFromInt(9); err == nil {
		t.Error("StatusFromInt accepted an out-of-range value")
	}
}

func TestWorkerStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusQueued)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"queued"` {
		t.Errorf("marshal produced %s, want \"queued\"", data)
	}

	var s WorkerStatus
	if err := json.Unmarshal([]byte(`"finished"`), &s); err != nil || s != StatusFinished {
		t.Errorf("unmarshal produced %v, %v", s, err)
	}

	if _, err := json.Marshal(WorkerStatus(42)); err == nil {
		t.Error("marshal accepted an out-of-range status")
	}
}

func TestIsBusy(t *testing.T) {
	busy := map[WorkerStatus]bool{
		StatusNone:     false,
		StatusQueued:   true,
		StatusRunning:  true,
		StatusFinished: false,
		StatusFailed:   false,
	}
	for s, want := range busy {
		if s.IsBusy() != want {
			t.Errorf("%v.IsBusy() = %v, want %v", s, s.IsBusy(), want)
		}
	}
}
