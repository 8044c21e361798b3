package container

import (
	"sync"
	"time"
)

// ProgressEvent is one coalesced progress tick across a decrypt batch.
type ProgressEvent struct {
	Percent     float64
	Processed   uint64
	Total       uint64
	CurrentFile string
	TotalFiles  int
}

// ProgressReporter receives coalesced progress events. Implementations may
// be called from the calling goroutine only — decryption is single-threaded
// (see the concurrency model), so no internal locking is required by
// callers, though BatchProgress itself is safe to share across files.
type ProgressReporter interface {
	Report(ev ProgressEvent)
}

const minEmitInterval = 150 * time.Millisecond

// BatchProgress aggregates per-page byte counts into rate-limited,
// coalesced progress events for an entire decrypt batch.
//
// Rules: emit only when percent changes, at least minEmitInterval has
// elapsed since the last emit, or a boundary is forced (start, per-file
// end, all-done). Processed is clamped to Total.
type BatchProgress struct {
	mu           sync.Mutex
	reporter     ProgressReporter
	totalFiles   int
	total        uint64
	processed    uint64
	currentFile  string
	lastEmit     time.Time
	lastPercent  int
	hasEmitted   bool
}

// NewBatchProgress creates a tracker for a batch of totalFiles inputs. The
// byte total is set once all input headers have been probed, via SetTotal.
func NewBatchProgress(reporter ProgressReporter, totalFiles int) *BatchProgress {
	return &BatchProgress{reporter: reporter, totalFiles: totalFiles}
}

// SetTotal fixes the estimated total byte count for the whole batch. A
// total of zero is replaced by 1 to avoid a division by zero in percent
// computation.
func (b *BatchProgress) SetTotal(total uint64) {
	if total == 0 {
		total = 1
	}
	b.mu.Lock()
	b.total = total
	b.mu.Unlock()
}

// Start emits the initial, forced progress event.
func (b *BatchProgress) Start() {
	b.emit(true)
}

// FileStarted records the name of the file now being processed.
func (b *BatchProgress) FileStarted(name string) {
	b.mu.Lock()
	b.currentFile = name
	b.mu.Unlock()
}

// AddBytes adds n processed bytes and emits a coalesced update if due.
func (b *BatchProgress) AddBytes(n uint64) {
	b.mu.Lock()
	b.processed += n
	if b.processed > b.total {
		b.processed = b.total
	}
	b.mu.Unlock()
	b.emit(false)
}

// TopOffTo force-sets processed to at least floor (used at the end of each
// file: floor is the cumulative byte estimate through this file, so if the
// page loop under-reported relative to the pre-scan estimate, processed
// catches up) and forces an emit — a per-file end is always a forced
// boundary.
func (b *BatchProgress) TopOffTo(floor uint64) {
	b.mu.Lock()
	if floor > b.processed {
		if floor > b.total {
			floor = b.total
		}
		b.processed = floor
	}
	b.mu.Unlock()
	b.emit(true)
}

// Done emits the final, forced all-done event.
func (b *BatchProgress) Done() {
	b.emit(true)
}

func (b *BatchProgress) emit(force bool) {
	if b.reporter == nil {
		return
	}

	b.mu.Lock()
	total := b.total
	if total == 0 {
		total = 1
	}
	processed := b.processed
	percent := int(float64(processed) * 100 / float64(total))
	currentFile := b.currentFile
	totalFiles := b.totalFiles

	due := force || !b.hasEmitted || percent != b.lastPercent || time.Since(b.lastEmit) >= minEmitInterval
	if !due {
		b.mu.Unlock()
		return
	}
	b.lastEmit = time.Now()
	b.lastPercent = percent
	b.hasEmitted = true
	b.mu.Unlock()

	b.reporter.Report(ProgressEvent{
		Percent:     float64(percent),
		Processed:   processed,
		Total:       total,
		CurrentFile: currentFile,
		TotalFiles:  totalFiles,
	})
}
