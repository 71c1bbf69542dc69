package progress

import (
	"sync"
	"time"
)

// Status represents the current run status
type Status struct {
	UnitsCompleted int64
	UnitsFailed    int64
	UnitsSkipped   int64
	DocsSucceeded  int64
	DocsSkipped    int64
	Records        int64
	StartTime      time.Time
	LastUpdateTime time.Time
}

// Tracker tracks run progress
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{StartTime: now, LastUpdateTime: now},
	}
}

// AddUnitCompleted counts one fully completed unit
func (t *Tracker) AddUnitCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.UnitsCompleted++
	t.status.LastUpdateTime = time.Now()
}

// AddUnitFailed counts one unit with a failed stage
func (t *Tracker) AddUnitFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.UnitsFailed++
	t.status.LastUpdateTime = time.Now()
}

// AddUnitSkipped counts one unit skipped by the resume fast-path
func (t *Tracker) AddUnitSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.UnitsSkipped++
	t.status.LastUpdateTime = time.Now()
}

// AddDocs accumulates sub-item outcomes
func (t *Tracker) AddDocs(succeeded, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.DocsSucceeded += int64(succeeded)
	t.status.DocsSkipped += int64(skipped)
	t.status.LastUpdateTime = time.Now()
}

// AddRecords accumulates inserted record count
func (t *Tracker) AddRecords(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Records += int64(n)
	t.status.LastUpdateTime = time.Now()
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Elapsed returns the time since the run started
func (t *Tracker) Elapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Since(t.status.StartTime)
}
