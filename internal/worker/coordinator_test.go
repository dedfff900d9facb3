package worker

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project-vinyl/internal/config"
	"project-vinyl/internal/media"
	"project-vinyl/internal/storage"
)

// The stub downloader mimics the template-pinned stdout grammar: one
// progress line, the artifact write, then the after-move path. The
// output path is the final argument of the invocation.
const downloaderScript = `#!/bin/sh
out=""
for a in "$@"; do out="$a"; done
echo "@[progress] eta=1,elapsed=0,downloaded_bytes=512,total_bytes=1024,speed=256"
printf 'audio' > "$out"
echo "@[after-move-path] $out"
`

const unavailableScript = `#!/bin/sh
echo "ERROR: [youtube] abcdefghijA: Video unavailable" >&2
exit 1
`

const transcoderScript = `#!/bin/sh
out=""
for a in "$@"; do out="$a"; done
echo "Duration: 00:03:45.00, start: 0.000000, bitrate: 128 kb/s" >&2
echo "frame=    0 fps=0.0 q=-1.0 size=    1024KiB time=00:00:03.00 bitrate= 2730.7kbits/s speed= 2.1x" >&2
printf 'transcoded' > "$out"
`

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newTestCoordinator(t *testing.T, downloader, transcoder string) *Coordinator {
	t.Helper()
	cfg := &config.Config{
		DataDir:              filepath.Join(t.TempDir(), "data"),
		StaticDir:            filepath.Join(t.TempDir(), "static"),
		WorkerCount:          2,
		TranscodeWorkerCount: 2,
		DownloaderBinary:     downloader,
		TranscoderBinary:     transcoder,
	}
	require.NoError(t, cfg.SeedDirectories())

	store, err := storage.Open(cfg.IndexPath())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := NewCoordinator(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(c.Stop)
	return c
}

func mustID(t *testing.T, s string) media.ID {
	t.Helper()
	id, err := media.ParseID(s)
	require.NoError(t, err)
	return id
}

// awaitDownload blocks until the stage-1 cell reaches a terminal state,
// failing the test instead of hanging when the worker never commits.
func awaitDownload(t *testing.T, c *Coordinator, id media.ID) DownloadState {
	t.Helper()
	done := make(chan DownloadState, 1)
	go func() {
		done <- c.downloads.EntryOrDefault(id).WaitUntil(func(s DownloadState) bool {
			return s.Status == media.StatusFinished || s.Status == media.StatusFailed
		})
	}()
	select {
	case state := <-done:
		return state
	case <-time.After(10 * time.Second):
		t.Fatal("download worker never reached a terminal state")
		return DownloadState{}
	}
}

func awaitTranscode(t *testing.T, c *Coordinator, key TranscodeKey) TranscodeState {
	t.Helper()
	done := make(chan TranscodeState, 1)
	go func() {
		done <- c.transcodes.EntryOrDefault(key).WaitUntil(func(s TranscodeState) bool {
			return s.Status == media.StatusFinished || s.Status == media.StatusFailed
		})
	}()
	select {
	case state := <-done:
		return state
	case <-time.After(10 * time.Second):
		t.Fatal("transcode worker never reached a terminal state")
		return TranscodeState{}
	}
}

func TestDownloadWorkerFinishes(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", downloaderScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")

	status, err := c.TryStartDownload(id)
	require.NoError(t, err)
	assert.Equal(t, media.StatusQueued, status)

	state := awaitDownload(t, c, id)
	assert.Equal(t, media.StatusFinished, state.Status)
	assert.Nil(t, state.FailReason)
	require.NotNil(t, state.DownloadedBytes)
	assert.Equal(t, int64(512), *state.DownloadedBytes)

	row, err := c.store.SelectDownload(id.String())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, media.StatusFinished, row.Status)
	require.NotNil(t, row.AudioPath)
	assert.FileExists(t, *row.AudioPath)
	require.NotNil(t, row.StdoutLogPath)
	assert.FileExists(t, *row.StdoutLogPath)
	require.NotNil(t, row.SystemLogPath)
	assert.FileExists(t, *row.SystemLogPath)
}

func TestDownloadWorkerMissingContent(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", unavailableScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "abcdefghijA")

	_, err := c.TryStartDownload(id)
	require.NoError(t, err)

	state := awaitDownload(t, c, id)
	assert.Equal(t, media.StatusFailed, state.Status)
	require.NotNil(t, state.FailReason)
	assert.Equal(t, ErrInvalidContent.Error(), *state.FailReason)

	row, err := c.store.SelectDownload(id.String())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, media.StatusFailed, row.Status)
	assert.Nil(t, row.AudioPath)
}

func TestTryStartReturnsBusyStatusWithoutWork(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", downloaderScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")

	c.downloads.EntryOrDefault(id).Update(func(s *DownloadState) bool {
		s.Status = media.StatusRunning
		return true
	})

	status, err := c.TryStartDownload(id)
	require.NoError(t, err)
	assert.Equal(t, media.StatusRunning, status)

	// No row was touched while another worker owned the key.
	row, err := c.store.SelectDownload(id.String())
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestTryStartHydratesFinishedRowAfterRestart(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", unavailableScript), // must never run
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")

	artifact := filepath.Join(c.cfg.DownloadsDir(), id.String()+".m4a")
	require.NoError(t, os.WriteFile(artifact, []byte("audio"), 0o644))
	require.NoError(t, c.store.UpsertQueuedDownload(id.String()))
	require.NoError(t, c.store.UpdateDownloadFields(id.String(), map[string]interface{}{
		"status":     media.StatusFinished,
		"audio_path": artifact,
	}))

	status, err := c.TryStartDownload(id)
	require.NoError(t, err)
	assert.Equal(t, media.StatusFinished, status)

	state := c.downloads.EntryOrDefault(id).Load()
	assert.Equal(t, media.StatusFinished, state.Status)
}

func TestTranscodeWaitsOnDownloadAndFinishes(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", downloaderScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")
	key := TranscodeKey{ID: id, Format: media.FormatMP3}

	_, err := c.TryStartDownload(id)
	require.NoError(t, err)
	status, err := c.TryStartTranscode(key)
	require.NoError(t, err)
	assert.Equal(t, media.StatusQueued, status)

	state := awaitTranscode(t, c, key)
	assert.Equal(t, media.StatusFinished, state.Status)
	require.NotNil(t, state.SourceDurationMicros)
	assert.Equal(t, int64(225_000_000), *state.SourceDurationMicros)
	require.NotNil(t, state.TimeTranscodedMicros)
	assert.Equal(t, int64(3_000_000), *state.TimeTranscodedMicros)

	row, err := c.store.SelectTranscode(id.String(), "mp3")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, media.StatusFinished, row.Status)
	require.NotNil(t, row.AudioPath)
	assert.FileExists(t, *row.AudioPath)
	assert.Equal(t, id.String()+".mp3", filepath.Base(*row.AudioPath))
}

func TestTranscodeAbortsWhenDownloadFails(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", unavailableScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "abcdefghijA")
	key := TranscodeKey{ID: id, Format: media.FormatMP3}

	_, err := c.TryStartDownload(id)
	require.NoError(t, err)
	_, err = c.TryStartTranscode(key)
	require.NoError(t, err)

	state := awaitTranscode(t, c, key)
	assert.Equal(t, media.StatusFailed, state.Status)
	require.NotNil(t, state.FailReason)
	assert.Equal(t, ErrDownloadWorkerFailed.Error(), *state.FailReason)

	// The transcoder was never spawned, so no stage-2 log files exist.
	assert.NoFileExists(t, filepath.Join(c.cfg.TranscodeDir(), key.String()+".stdout.log"))
}

func TestTwoFormatsShareOneDownload(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", downloaderScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")
	mp3 := TranscodeKey{ID: id, Format: media.FormatMP3}
	aac := TranscodeKey{ID: id, Format: media.FormatAAC}

	_, err := c.TryStartDownload(id)
	require.NoError(t, err)
	// The second start call observes the first worker instead of
	// spawning another subprocess for the same key.
	second, err := c.TryStartDownload(id)
	require.NoError(t, err)
	assert.True(t, second.IsBusy() || second == media.StatusFinished)

	_, err = c.TryStartTranscode(mp3)
	require.NoError(t, err)
	_, err = c.TryStartTranscode(aac)
	require.NoError(t, err)

	assert.Equal(t, media.StatusFinished, awaitTranscode(t, c, mp3).Status)
	assert.Equal(t, media.StatusFinished, awaitTranscode(t, c, aac).Status)
}

func TestConcurrentStartsRunOneWorker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "invocations")
	// Each subprocess run appends one line to the marker file before
	// producing its artifact.
	countingScript := "#!/bin/sh\n" +
		"echo run >> " + marker + "\n" +
		`out=""
for a in "$@"; do out="$a"; done
echo "@[progress] eta=1,elapsed=0,downloaded_bytes=512,total_bytes=1024,speed=256"
printf 'audio' > "$out"
echo "@[after-move-path] $out"
`
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", countingScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")

	const callers = 16
	statuses := make(chan media.WorkerStatus, callers)
	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			status, err := c.TryStartDownload(id)
			assert.NoError(t, err)
			statuses <- status
		}()
	}
	start.Done()
	wg.Wait()
	close(statuses)

	queued := 0
	for status := range statuses {
		switch status {
		case media.StatusQueued:
			queued++
		case media.StatusRunning, media.StatusFinished:
		default:
			t.Errorf("unexpected start status %v", status)
		}
	}
	assert.Equal(t, 1, queued, "exactly one caller may claim the key")

	require.Equal(t, media.StatusFinished, awaitDownload(t, c, id).Status)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "run\n", string(data), "exactly one subprocess must have run")
}

func TestDeleteBusyTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", downloaderScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")
	key := TranscodeKey{ID: id, Format: media.FormatMP3}

	require.NoError(t, c.store.UpsertQueuedTranscode(id.String(), "mp3"))
	c.transcodes.EntryOrDefault(key).Update(func(s *TranscodeState) bool {
		s.Status = media.StatusRunning
		return true
	})

	outcome, err := c.DeleteTranscode(key)
	require.NoError(t, err)
	assert.True(t, outcome.Busy)

	row, err := c.store.SelectTranscode(id.String(), "mp3")
	require.NoError(t, err)
	assert.NotNil(t, row)
	assert.Equal(t, media.StatusRunning, c.transcodes.EntryOrDefault(key).Load().Status)
}

func TestDeleteRemovesRowAndArtifacts(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", downloaderScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")

	_, err := c.TryStartDownload(id)
	require.NoError(t, err)
	require.Equal(t, media.StatusFinished, awaitDownload(t, c, id).Status)

	outcome, err := c.DeleteDownload(id)
	require.NoError(t, err)
	assert.False(t, outcome.Busy)

	kinds := make(map[string]bool)
	for _, p := range outcome.Paths {
		kinds[p.Type] = true
		assert.Nil(t, p.Reason, "removal of %s should succeed", p.Filename)
	}
	assert.True(t, kinds["audio"])
	assert.True(t, kinds["stdout_log"])
	assert.True(t, kinds["stderr_log"])
	assert.True(t, kinds["system_log"])

	row, err := c.store.SelectDownload(id.String())
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.Equal(t, media.StatusNone, c.downloads.EntryOrDefault(id).Load().Status)
	assert.NoFileExists(t, filepath.Join(c.cfg.DownloadsDir(), id.String()+".m4a"))
}

func TestLogPathsCommittedBeforeFirstWrite(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", downloaderScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")

	// With the table gone the log-path commit fails; since the commit
	// precedes the first write, the created system log stays empty.
	require.NoError(t, c.store.DB.Exec("DROP TABLE downloads").Error)

	cell := c.downloads.EntryOrDefault(id)
	cell.Update(func(s *DownloadState) bool {
		s.Status = media.StatusQueued
		return true
	})
	c.runDownload(id, cell)

	assert.Equal(t, media.StatusFailed, cell.Load().Status)
	data, err := os.ReadFile(filepath.Join(c.cfg.DownloadsDir(), id.String()+".system.log"))
	require.NoError(t, err)
	assert.Empty(t, string(data))
	assert.NoFileExists(t, filepath.Join(c.cfg.DownloadsDir(), id.String()+".m4a"),
		"no subprocess may run when the log-path commit fails")
}

func TestTranscodeLogPathsCommittedBeforeFirstWrite(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", downloaderScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "dQw4w9WgXcQ")
	key := TranscodeKey{ID: id, Format: media.FormatMP3}

	source := filepath.Join(c.cfg.DownloadsDir(), id.String()+".m4a")
	require.NoError(t, os.WriteFile(source, []byte("audio"), 0o644))
	require.NoError(t, c.store.UpsertQueuedDownload(id.String()))
	require.NoError(t, c.store.UpdateDownloadFields(id.String(), map[string]interface{}{
		"status":     media.StatusFinished,
		"audio_path": source,
	}))
	c.downloads.EntryOrDefault(id).Update(func(s *DownloadState) bool {
		s.Status = media.StatusFinished
		return true
	})

	require.NoError(t, c.store.DB.Exec("DROP TABLE transcodes").Error)

	cell := c.transcodes.EntryOrDefault(key)
	cell.Update(func(s *TranscodeState) bool {
		s.Status = media.StatusQueued
		return true
	})
	c.runTranscode(key, cell)

	assert.Equal(t, media.StatusFailed, cell.Load().Status)
	data, err := os.ReadFile(filepath.Join(c.cfg.TranscodeDir(), key.String()+".system.log"))
	require.NoError(t, err)
	assert.Empty(t, string(data))
}

func TestTryStartAfterFailureRequeues(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t,
		writeStub(t, dir, "yt-dlp", unavailableScript),
		writeStub(t, dir, "ffmpeg", transcoderScript))
	id := mustID(t, "abcdefghijA")

	_, err := c.TryStartDownload(id)
	require.NoError(t, err)
	require.Equal(t, media.StatusFailed, awaitDownload(t, c, id).Status)

	status, err := c.TryStartDownload(id)
	require.NoError(t, err)
	assert.Equal(t, media.StatusQueued, status)
	assert.Equal(t, media.StatusFailed, awaitDownload(t, c, id).Status)
}
