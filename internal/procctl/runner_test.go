package procctl

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "phone-gate-bot/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestRestart(t *testing.T) {
	script := writeScript(t, "echo restarted")
	r := NewRunner(script, script, testLogger())

	out, err := r.Restart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "restarted", out)
}

func TestRestartFailure(t *testing.T) {
	script := writeScript(t, "echo broken\nexit 3")
	r := NewRunner(script, script, testLogger())

	out, err := r.Restart(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrExternalProcess)
	assert.Equal(t, "broken", out)
}

func TestStreamUpdate(t *testing.T) {
	script := writeScript(t, "echo line1\necho line2\necho err-line 1>&2")
	r := NewRunner(script, script, testLogger())
	r.editInterval = 0 // every line in tests

	var mu sync.Mutex
	var snapshots []string
	err := r.StreamUpdate(context.Background(), func(text string) {
		mu.Lock()
		snapshots = append(snapshots, text)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NotEmpty(t, snapshots)
	final := snapshots[len(snapshots)-1]
	assert.Contains(t, final, "line1")
	assert.Contains(t, final, "line2")
	assert.Contains(t, final, "err-line") // stderr is merged in
}

func TestStreamUpdateFailure(t *testing.T) {
	script := writeScript(t, "echo dying\nexit 1")
	r := NewRunner(script, script, testLogger())
	r.editInterval = 0

	err := r.StreamUpdate(context.Background(), func(string) {})
	assert.ErrorIs(t, err, apperrors.ErrExternalProcess)
}

func TestStreamUpdateSingleFlight(t *testing.T) {
	script := writeScript(t, "sleep 1")
	r := NewRunner(script, script, testLogger())

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- r.StreamUpdate(context.Background(), func(string) {})
	}()
	<-started
	time.Sleep(100 * time.Millisecond)

	err := r.StreamUpdate(context.Background(), func(string) {})
	assert.ErrorIs(t, err, ErrUpdateInProgress)

	require.NoError(t, <-done)
}

func TestStreamUpdateToleratesOversizedLine(t *testing.T) {
	// One 2MB line, then a closing line; reading this must neither fail
	// nor leave the pipe (and with it cmd.Wait) blocked.
	script := writeScript(t, "head -c 2097152 /dev/zero | tr '\\0' x\necho done")
	r := NewRunner(script, script, testLogger())
	r.editInterval = 0

	var mu sync.Mutex
	var last string
	done := make(chan error, 1)
	go func() {
		done <- r.StreamUpdate(context.Background(), func(text string) {
			mu.Lock()
			last = text
			mu.Unlock()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("StreamUpdate did not finish with an oversized output line")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(last), 4000)
	assert.Contains(t, last, "done")

	// The single-flight slot was released.
	assert.False(t, r.updating.Load())
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("abc", 10))
	assert.Equal(t, "cde", tail("abcde", 3))
	long := strings.Repeat("x", 5000) + "END"
	assert.Len(t, tail(long, 4000), 4000)
	assert.True(t, strings.HasSuffix(tail(long, 4000), "END"))
}

func TestTailKeepsRuneBoundary(t *testing.T) {
	// Cutting "ééé" at 3 bytes lands mid-rune; the cut advances to the
	// next rune start instead of emitting invalid UTF-8.
	assert.Equal(t, "é", tail("ééé", 3))

	s := strings.Repeat("и", 10)
	cut := tail(s, 5)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, "ии", cut)
}
