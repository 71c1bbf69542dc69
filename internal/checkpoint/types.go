package checkpoint

import (
	"fmt"
	"time"
)

// Stage identifies one ordered phase a unit passes through.
type Stage string

const (
	StageAcquire   Stage = "acquire"
	StageTransform Stage = "transform"
	StagePersist   Stage = "persist"
)

// Stages returns the stages in processing order.
func Stages() []Stage {
	return []Stage{StageAcquire, StageTransform, StagePersist}
}

// Status represents the status of a unit stage
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StageState records the progress of one stage of one unit.
// Done lists the sub-item IDs that already succeeded, so a resumed
// in-progress stage only re-runs the remainder.
type StageState struct {
	Status    Status    `json:"status"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Done      []string  `json:"done,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UnitProgress holds the per-stage states of one work unit.
type UnitProgress struct {
	Stages map[Stage]*StageState `json:"stages"`
}

// StageState returns the state of the given stage, creating a pending
// entry if the stage has not been touched yet.
func (u *UnitProgress) StageState(stage Stage) *StageState {
	if u.Stages == nil {
		u.Stages = make(map[Stage]*StageState)
	}
	st, ok := u.Stages[stage]
	if !ok {
		st = &StageState{Status: StatusPending}
		u.Stages[stage] = st
	}
	return st
}

// Counters aggregates sub-item outcomes across the run.
type Counters struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
}

// Add accumulates another set of counters.
func (c *Counters) Add(other Counters) {
	c.Attempted += other.Attempted
	c.Succeeded += other.Succeeded
	c.Skipped += other.Skipped
}

// Snapshot is the durable progress record for the whole run. Exactly one
// snapshot is current at any time and it is the sole source of truth for
// resume decisions.
type Snapshot struct {
	Units     map[string]*UnitProgress `json:"units"`
	Totals    Counters                 `json:"totals"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Units: make(map[string]*UnitProgress)}
}

// Unit returns the progress entry for a unit key, creating it if absent.
func (s *Snapshot) Unit(key string) *UnitProgress {
	if s.Units == nil {
		s.Units = make(map[string]*UnitProgress)
	}
	u, ok := s.Units[key]
	if !ok {
		u = &UnitProgress{Stages: make(map[Stage]*StageState)}
		s.Units[key] = u
	}
	return u
}

// UnitKey builds the composite natural key for a unit.
func UnitKey(state, assembly string) string {
	return fmt.Sprintf("%s/%s", state, assembly)
}

// HistoryEntry is an immutable audit record of one stage transition.
// History is never consulted for resume decisions.
type HistoryEntry struct {
	Unit      string    `json:"unit"`
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Timestamp time.Time `json:"timestamp"`
}
