// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/azzeloof/oscar-language/engine/analyze"
)

// SkipUnlessEnv skips the test unless the given env var equals the wanted value.
func SkipUnlessEnv(t *testing.T, key, want string) {
	t.Helper()
	if os.Getenv(key) != want {
		t.Skipf("skipped: set %s=%s to run", key, want)
	}
}

// IsCI reports whether running under common CI environments.
func IsCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ErrorRecorder collects errors passed to HandleError. It satisfies
// oscar.ErrorHandler.
type ErrorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *ErrorRecorder) HandleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Errors returns a copy of the recorded errors.
func (r *ErrorRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

// Len returns the number of recorded errors.
func (r *ErrorRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// SyncBuffer is a goroutine-safe bytes buffer for capturing output.
type SyncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// AssertLevelAbove polls levels until channel ch reaches minRMS or the
// timeout expires.
func AssertLevelAbove(t *testing.T, levels func() []analyze.Metrics, ch int, minRMS float64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		l := levels()
		if ch < len(l) && l[ch].RMS >= minRMS && l[ch].Frames > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("signal below threshold: wanted >= %.6f on channel %d within %s", minRMS, ch, timeout)
}
