package pipeline

import (
	"fmt"
	"time"

	"rollingest/internal/checkpoint"
)

// StageOutcome summarizes one stage run over a unit's sub-items.
type StageOutcome struct {
	Attempted   int
	Succeeded   int
	Skipped     int
	Done        []string
	Interrupted bool
}

// StateMachine owns the in-memory view of unit progress and is the only
// writer of stage statuses. The orchestrator decides sequencing but never
// mutates statuses directly.
type StateMachine struct {
	snap       *checkpoint.Snapshot
	minSuccess float64
}

// NewStateMachine wraps a loaded snapshot. minSuccess is the minimum
// fraction of sub-items that must succeed for a stage to count as
// completed; at zero, any success completes the stage.
func NewStateMachine(snap *checkpoint.Snapshot, minSuccess float64) *StateMachine {
	return &StateMachine{snap: snap, minSuccess: minSuccess}
}

// Snapshot exposes the underlying snapshot for persistence.
func (m *StateMachine) Snapshot() *checkpoint.Snapshot {
	return m.snap
}

// Begin marks a stage in progress. Starting a stage whose predecessor is
// not completed, or one already completed, is a contract violation the
// orchestrator must never commit.
func (m *StateMachine) Begin(key string, stage checkpoint.Stage) {
	m.checkPredecessors(key, stage)

	st := m.snap.Unit(key).StageState(stage)
	if st.Status == checkpoint.StatusCompleted {
		panic(fmt.Sprintf("pipeline: stage %s of unit %s already completed", stage, key))
	}
	st.Status = checkpoint.StatusInProgress
	st.UpdatedAt = time.Now().UTC()
}

// Advance applies a stage outcome. Succeeded sub-item IDs accumulate in
// Done across resumed runs; counters derive from the accumulated set plus
// this run's permanent skips. An interrupted outcome leaves the stage in
// progress so a resume re-runs only the remaining sub-items.
func (m *StateMachine) Advance(key string, stage checkpoint.Stage, outcome StageOutcome) checkpoint.Status {
	m.checkPredecessors(key, stage)

	st := m.snap.Unit(key).StageState(stage)
	if st.Status == checkpoint.StatusCompleted {
		panic(fmt.Sprintf("pipeline: stage %s of unit %s already completed", stage, key))
	}

	done := make(map[string]bool, len(st.Done))
	for _, id := range st.Done {
		done[id] = true
	}
	for _, id := range outcome.Done {
		if !done[id] {
			done[id] = true
			st.Done = append(st.Done, id)
		}
	}

	st.Succeeded = len(st.Done)
	st.Skipped = outcome.Skipped
	st.Attempted = st.Succeeded + st.Skipped
	st.UpdatedAt = time.Now().UTC()

	switch {
	case outcome.Interrupted:
		st.Status = checkpoint.StatusInProgress
	case st.Attempted == 0:
		st.Status = checkpoint.StatusCompleted
	case st.Succeeded == 0:
		st.Status = checkpoint.StatusFailed
	case float64(st.Succeeded)/float64(st.Attempted) >= m.minSuccess:
		st.Status = checkpoint.StatusCompleted
	default:
		st.Status = checkpoint.StatusFailed
	}

	m.snap.Totals.Add(checkpoint.Counters{
		Attempted: outcome.Attempted,
		Succeeded: outcome.Succeeded,
		Skipped:   outcome.Skipped,
	})

	return st.Status
}

// AccumulatePersist bumps the persist stage counters as record batches are
// flushed while the unit is still transforming. Status is untouched.
func (m *StateMachine) AccumulatePersist(key string, attempted, succeeded int) {
	st := m.snap.Unit(key).StageState(checkpoint.StagePersist)
	st.Attempted += attempted
	st.Succeeded += succeeded
	st.Skipped += attempted - succeeded
	st.UpdatedAt = time.Now().UTC()
}

// FinishPersist settles the persist stage status from its accumulated
// counters once the transform stage has completed.
func (m *StateMachine) FinishPersist(key string) checkpoint.Status {
	m.checkPredecessors(key, checkpoint.StagePersist)

	st := m.snap.Unit(key).StageState(checkpoint.StagePersist)
	if st.Status == checkpoint.StatusCompleted {
		panic(fmt.Sprintf("pipeline: persist stage of unit %s already completed", key))
	}

	if st.Attempted > 0 && st.Succeeded == 0 {
		st.Status = checkpoint.StatusFailed
	} else {
		st.Status = checkpoint.StatusCompleted
	}
	st.UpdatedAt = time.Now().UTC()
	return st.Status
}

// IsUnitComplete reports whether the unit has finished all stages.
func (m *StateMachine) IsUnitComplete(key string) bool {
	unit, ok := m.snap.Units[key]
	if !ok {
		return false
	}
	persist, ok := unit.Stages[checkpoint.StagePersist]
	return ok && persist.Status == checkpoint.StatusCompleted
}

// NextPendingStage returns the first stage in order that is not completed.
// This is the sole resume decision point. A failed stage is returned as
// pending: re-running it is the explicit retry that resets it.
func (m *StateMachine) NextPendingStage(key string) (checkpoint.Stage, bool) {
	unit, ok := m.snap.Units[key]
	if !ok {
		return checkpoint.StageAcquire, true
	}
	for _, stage := range checkpoint.Stages() {
		st, ok := unit.Stages[stage]
		if !ok || st.Status != checkpoint.StatusCompleted {
			return stage, true
		}
	}
	return "", false
}

// DoneSet returns the sub-item IDs already completed for a stage.
func (m *StateMachine) DoneSet(key string, stage checkpoint.Stage) map[string]bool {
	unit, ok := m.snap.Units[key]
	if !ok {
		return nil
	}
	st, ok := unit.Stages[stage]
	if !ok {
		return nil
	}
	done := make(map[string]bool, len(st.Done))
	for _, id := range st.Done {
		done[id] = true
	}
	return done
}

// StageState exposes the current state of a stage for reporting.
func (m *StateMachine) StageState(key string, stage checkpoint.Stage) checkpoint.StageState {
	return *m.snap.Unit(key).StageState(stage)
}

func (m *StateMachine) checkPredecessors(key string, stage checkpoint.Stage) {
	unit := m.snap.Unit(key)
	for _, earlier := range checkpoint.Stages() {
		if earlier == stage {
			return
		}
		if unit.StageState(earlier).Status != checkpoint.StatusCompleted {
			panic(fmt.Sprintf("pipeline: stage %s of unit %s started before %s completed", stage, key, earlier))
		}
	}
}
