package cli

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/container"
	"github.com/ruminasu/fsdecrypt/internal/util"
)

// Reporter implements container.ProgressReporter for terminal output. It
// displays progress on a single line that gets overwritten, matching the
// teacher's bar-plus-status layout.
type Reporter struct {
	mu        sync.Mutex
	quiet     bool
	cancelled atomic.Bool
	lastLine  int
	start     time.Time
}

// NewReporter creates a new CLI progress reporter. If quiet is true, only
// errors are printed; progress and success lines are suppressed.
func NewReporter(quiet bool) *Reporter {
	return &Reporter{quiet: quiet}
}

// Report renders one progress event as a single overwritten line, matching
// the teacher's "bar | percent | speed (ETA: ...)" status layout built from
// util.Statify/util.Sizeify.
func (r *Reporter) Report(ev container.ProgressEvent) {
	if r.quiet {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.start.IsZero() {
		r.start = time.Now()
	}

	barWidth := 30
	filled := min(int(ev.Percent/100*float64(barWidth)), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	_, speed, eta := util.Statify(int64(ev.Processed), int64(ev.Total), r.start)
	size := fmt.Sprintf("%s/%s", util.Sizeify(int64(ev.Processed)), util.Sizeify(int64(ev.Total)))

	line := fmt.Sprintf("\r[%s] %5.1f%% | %s | %.2f MiB/s (ETA: %s) | %s",
		bar, ev.Percent, size, speed, eta, ev.CurrentFile)
	if len(line) < r.lastLine {
		line += strings.Repeat(" ", r.lastLine-len(line))
	}
	r.lastLine = len(line)

	fmt.Fprint(os.Stderr, line)
}

// IsCancelled reports whether Cancel has been called.
func (r *Reporter) IsCancelled() bool { return r.cancelled.Load() }

// Cancel marks the operation as cancelled (invoked from the signal handler).
func (r *Reporter) Cancel() { r.cancelled.Store(true) }

// Finish prints a newline to move past the progress line.
func (r *Reporter) Finish() {
	if !r.quiet {
		fmt.Fprintln(os.Stderr)
	}
}

// PrintError prints an error message, moving past any in-progress line first.
func (r *Reporter) PrintError(format string, args ...any) {
	r.mu.Lock()
	hadProgress := r.lastLine > 0
	r.mu.Unlock()
	if !r.quiet && hadProgress {
		fmt.Fprintln(os.Stderr)
	}
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// PrintSuccess prints a success message unless quiet.
func (r *Reporter) PrintSuccess(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
