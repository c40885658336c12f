// Package procctl invokes the external restart and update scripts and
// surfaces their output to the admin.
package procctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	apperrors "phone-gate-bot/internal/errors"
)

// ErrUpdateInProgress is returned when a second update is requested while
// one is still streaming.
var ErrUpdateInProgress = errors.New("an update is already running")

// Sink receives throttled snapshots of the running update's output tail.
type Sink func(text string)

// Runner executes the configured restart and update scripts.
type Runner struct {
	restartScript string
	updateScript  string

	// editInterval is the minimum delay between sink calls; tailLimit
	// bounds the snapshot to what fits in one message edit.
	editInterval time.Duration
	tailLimit    int

	logger   *slog.Logger
	updating atomic.Bool
}

// NewRunner creates a runner for the two scripts with transport-friendly
// defaults: one edit per second, 4000-character tail.
func NewRunner(restartScript, updateScript string, logger *slog.Logger) *Runner {
	return &Runner{
		restartScript: restartScript,
		updateScript:  updateScript,
		editInterval:  time.Second,
		tailLimit:     4000,
		logger:        logger,
	}
}

// Restart runs the restart script synchronously and returns its combined
// output. A nonzero exit fails with ErrExternalProcess, still carrying
// whatever the script printed.
func (r *Runner) Restart(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.restartScript).CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("%w: %s: %v", apperrors.ErrExternalProcess, r.restartScript, err)
	}
	return output, nil
}

// StreamUpdate runs the update script and forwards its combined
// stdout/stderr to sink incrementally, at most once per edit interval and
// truncated to the last tailLimit characters. It blocks until the script
// exits; only one update may stream at a time.
func (r *Runner) StreamUpdate(ctx context.Context, sink Sink) error {
	if !r.updating.CompareAndSwap(false, true) {
		return ErrUpdateInProgress
	}
	defer r.updating.Store(false)

	cmd := exec.CommandContext(ctx, r.updateScript)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("%w: %s: %v", apperrors.ErrExternalProcess, r.updateScript, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	var output string
	var lastEdit time.Time

	// bufio.Reader rather than a Scanner: a script line of any length is
	// read through (only the tail is kept), so reading never fails early
	// and leaves the writer side of the pipe wedged.
	reader := bufio.NewReader(pr)
	for {
		line, rerr := reader.ReadString('\n')
		if line != "" {
			output = tail(output+line, r.tailLimit)

			if time.Since(lastEdit) >= r.editInterval {
				lastEdit = time.Now()
				sink(output)
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				r.logger.Error("reading update script output", "error", rerr)
			}
			break
		}
	}
	// If reading stopped before EOF, unblock any pending pipe write so
	// cmd.Wait can return.
	pr.Close()

	if err := <-waitErr; err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrExternalProcess, r.updateScript, err)
	}
	return nil
}

// tail returns the last limit bytes of s, advanced past any torn UTF-8
// rune at the cut so the result stays valid for a message edit.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := len(s) - limit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
