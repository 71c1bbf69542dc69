package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rollingest/internal/checkpoint"
	"rollingest/internal/discover"
	"rollingest/internal/extract"
	"rollingest/internal/fetch"
	"rollingest/internal/metrics"
	"rollingest/internal/progress"
	"rollingest/internal/runner"
	"rollingest/internal/store"

	"go.uber.org/zap"
)

// Transformer turns one acquired document into records. A document no
// strategy can read is a permanent failure; missing optional fields are
// valid output.
type Transformer interface {
	ParseDocument(ctx context.Context, path string) ([]store.Record, error)
}

// Enricher optionally rewrites record text fields (e.g. translation).
// Failures degrade to passing originals through; never fatal.
type Enricher interface {
	TranslateRecords(ctx context.Context, records []store.Record) []store.Record
}

// Config contains orchestration settings
type Config struct {
	DataDir            string
	AcquireConcurrency int
	ParseWorkers       int
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	AcquireTimeout     time.Duration
	ParseTimeout       time.Duration
	GracePeriod        time.Duration
	MinSuccessFraction float64
	StateFilter        string
	MaxUnits           int
	Resume             bool
}

// Summary is the outcome of one run, used to derive the exit status.
type Summary struct {
	UnitsProcessed int
	UnitsCompleted int
	UnitsFailed    int
	UnitsSkipped   int
	Interrupted    bool
}

// Pipeline drives units through acquire, transform and persist, one unit
// at a time end-to-end, checkpointing at every stage boundary.
type Pipeline struct {
	cfg         Config
	logger      *zap.Logger
	discovery   discover.Discovery
	fetcher     fetch.Fetcher
	parser      Transformer
	enricher    Enricher
	records     store.RecordStore
	checkpoints checkpoint.Store
	metrics     *metrics.Collector
	reporter    progress.Reporter
}

// New creates a pipeline. enricher may be nil when enrichment is disabled.
func New(
	cfg Config,
	discovery discover.Discovery,
	fetcher fetch.Fetcher,
	parser Transformer,
	enricher Enricher,
	records store.RecordStore,
	checkpoints checkpoint.Store,
	metricsCollector *metrics.Collector,
	reporter progress.Reporter,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		logger:      logger,
		discovery:   discovery,
		fetcher:     fetcher,
		parser:      parser,
		enricher:    enricher,
		records:     records,
		checkpoints: checkpoints,
		metrics:     metricsCollector,
		reporter:    reporter,
	}
}

// Run processes every discovered unit. Sub-item and unit-stage failures
// are absorbed and counted; only checkpoint I/O failure is returned as an
// error, because the run cannot safely continue uncheckpointed.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	snap := checkpoint.NewSnapshot()
	if p.cfg.Resume {
		loaded, err := p.checkpoints.Load()
		if err != nil {
			return Summary{}, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		snap = loaded
		p.logger.Info("Resuming from checkpoint", zap.Int("known_units", len(snap.Units)))
	}
	machine := NewStateMachine(snap, p.cfg.MinSuccessFraction)

	units, errCh := p.discovery.Units(ctx)
	// Discovery blocks on an unbuffered channel; drain whatever we do not
	// consume so its goroutine can finish and close errCh.
	defer func() {
		go func() {
			for range units {
			}
		}()
	}()

	var summary Summary
	matched := 0
	for unit := range units {
		if p.cfg.StateFilter != "" && !strings.EqualFold(unit.State, p.cfg.StateFilter) {
			continue
		}
		matched++
		if p.cfg.MaxUnits > 0 && matched > p.cfg.MaxUnits {
			break
		}

		key := unit.Key()
		if machine.IsUnitComplete(key) {
			summary.UnitsSkipped++
			p.reporter.UnitSkipped(key)
			continue
		}

		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		summary.UnitsProcessed++
		p.reporter.UnitStarted(key, len(unit.Resources))

		res, err := p.processUnit(ctx, machine, unit)
		if err != nil {
			return summary, err
		}

		switch {
		case res.interrupted:
			summary.Interrupted = true
		case res.failed:
			summary.UnitsFailed++
			p.metrics.IncUnit("failed")
			p.reporter.UnitFailed(key, string(res.failedStage))
		default:
			summary.UnitsCompleted++
			p.metrics.IncUnit("completed")
			p.reporter.UnitCompleted(key)
		}
		if res.interrupted {
			break
		}
	}

	// Unblock discovery before waiting on its error: the loop may have
	// stopped early with units still queued.
	go func() {
		for range units {
		}
	}()
	if err := <-errCh; err != nil && !summary.Interrupted {
		return summary, fmt.Errorf("discovery failed: %w", err)
	}

	return summary, nil
}

type unitResult struct {
	failed      bool
	failedStage checkpoint.Stage
	interrupted bool
}

// processUnit resumes the unit from its first non-completed stage and
// drives the remaining stages in order.
func (p *Pipeline) processUnit(ctx context.Context, machine *StateMachine, unit discover.Unit) (unitResult, error) {
	key := unit.Key()

	for {
		stage, ok := machine.NextPendingStage(key)
		if !ok {
			return unitResult{}, nil
		}
		if ctx.Err() != nil {
			return unitResult{interrupted: true}, nil
		}

		start := time.Now()
		var status checkpoint.Status
		var err error
		switch stage {
		case checkpoint.StageAcquire:
			status, err = p.runAcquire(ctx, machine, unit)
		case checkpoint.StageTransform:
			status, err = p.runTransform(ctx, machine, unit)
		case checkpoint.StagePersist:
			status, err = p.runPersist(machine, key)
		}
		if err != nil {
			return unitResult{}, err
		}
		p.metrics.ObserveStageDuration(string(stage), time.Since(start))

		st := machine.StageState(key, stage)
		p.reporter.StageCompleted(key, string(stage), string(status), st.Attempted, st.Succeeded, st.Skipped)

		switch status {
		case checkpoint.StatusInProgress:
			return unitResult{interrupted: true}, nil
		case checkpoint.StatusFailed:
			return unitResult{failed: true, failedStage: stage}, nil
		}
	}
}

func (p *Pipeline) runAcquire(ctx context.Context, machine *StateMachine, unit discover.Unit) (checkpoint.Status, error) {
	key := unit.Key()
	machine.Begin(key, checkpoint.StageAcquire)
	if err := p.saveSnapshot(machine); err != nil {
		return "", err
	}

	done := machine.DoneSet(key, checkpoint.StageAcquire)
	var remaining []discover.Resource
	for _, res := range unit.Resources {
		if !done[res.ID] {
			remaining = append(remaining, res)
		}
	}

	agg := runner.Run(ctx, remaining,
		func(res discover.Resource) string { return res.ID },
		func(ctx context.Context, res discover.Resource) (string, error) {
			return p.fetcher.Fetch(ctx, unit, res)
		},
		runner.Options{
			Concurrency: p.cfg.AcquireConcurrency,
			MaxAttempts: p.cfg.MaxAttempts,
			BackoffBase: p.cfg.BackoffBase,
			BackoffCap:  p.cfg.BackoffCap,
			ItemTimeout: p.cfg.AcquireTimeout,
			GracePeriod: p.cfg.GracePeriod,
		},
		p.logger,
	)

	status := machine.Advance(key, checkpoint.StageAcquire, toOutcome(agg))
	p.metrics.AddSubItems(string(checkpoint.StageAcquire), agg.Succeeded, agg.Skipped)
	if err := p.checkpointStage(machine, key, checkpoint.StageAcquire); err != nil {
		return "", err
	}
	return status, nil
}

func (p *Pipeline) runTransform(ctx context.Context, machine *StateMachine, unit discover.Unit) (checkpoint.Status, error) {
	key := unit.Key()
	machine.Begin(key, checkpoint.StageTransform)
	if err := p.saveSnapshot(machine); err != nil {
		return "", err
	}

	docs, err := p.listDocuments(unit)
	if err != nil {
		p.logger.Error("Failed to enumerate documents",
			zap.String("unit", key),
			zap.Error(err),
		)
		status := machine.Advance(key, checkpoint.StageTransform, StageOutcome{Attempted: 1, Skipped: 1})
		if cerr := p.checkpointStage(machine, key, checkpoint.StageTransform); cerr != nil {
			return "", cerr
		}
		return status, nil
	}

	done := machine.DoneSet(key, checkpoint.StageTransform)
	var remaining []string
	for _, doc := range docs {
		if !done[filepath.Base(doc)] {
			remaining = append(remaining, doc)
		}
	}

	agg := runner.Run(ctx, remaining,
		func(doc string) string { return filepath.Base(doc) },
		func(ctx context.Context, doc string) ([]store.Record, error) {
			return p.parser.ParseDocument(ctx, doc)
		},
		runner.Options{
			Concurrency: p.cfg.ParseWorkers,
			MaxAttempts: p.cfg.MaxAttempts,
			BackoffBase: p.cfg.BackoffBase,
			BackoffCap:  p.cfg.BackoffCap,
			ItemTimeout: p.cfg.ParseTimeout,
			GracePeriod: p.cfg.GracePeriod,
		},
		p.logger,
	)

	var records []store.Record
	for _, batch := range agg.Payloads {
		for _, rec := range batch {
			rec.State = unit.State
			rec.Assembly = unit.Assembly
			records = append(records, rec)
		}
	}

	// Flush records before the stage transition is checkpointed: once a
	// document is recorded as done its records must already be durable,
	// or a resume would silently drop them.
	if len(records) > 0 {
		if p.enricher != nil {
			records = p.enricher.TranslateRecords(ctx, records)
		}
		inserted, ierr := p.records.BatchInsert(records)
		machine.AccumulatePersist(key, len(records), inserted)
		p.metrics.AddRecords(inserted)
		if ierr != nil {
			p.logger.Error("Record batch insert failed",
				zap.String("unit", key),
				zap.Int("inserted", inserted),
				zap.Int("total", len(records)),
				zap.Error(ierr),
			)
		}
	}

	status := machine.Advance(key, checkpoint.StageTransform, toOutcome(agg))
	p.metrics.AddSubItems(string(checkpoint.StageTransform), agg.Succeeded, agg.Skipped)
	if err := p.checkpointStage(machine, key, checkpoint.StageTransform); err != nil {
		return "", err
	}
	return status, nil
}

func (p *Pipeline) runPersist(machine *StateMachine, key string) (checkpoint.Status, error) {
	machine.Begin(key, checkpoint.StagePersist)
	status := machine.FinishPersist(key)
	if err := p.checkpointStage(machine, key, checkpoint.StagePersist); err != nil {
		return "", err
	}
	return status, nil
}

// listDocuments enumerates the unit's parseable documents, expanding any
// acquired archives in place.
func (p *Pipeline) listDocuments(unit discover.Unit) ([]string, error) {
	dir := filepath.Join(p.cfg.DataDir,
		fetch.SanitizeFilename(unit.State),
		fetch.SanitizeFilename(unit.Assembly),
	)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read unit dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	expanded, err := extract.Expand(files, p.logger)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(expanded))
	var docs []string
	for _, doc := range expanded {
		if !seen[doc] {
			seen[doc] = true
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// checkpointStage persists the snapshot and appends the audit entry for a
// stage transition. Failure here is fatal to the run.
func (p *Pipeline) checkpointStage(machine *StateMachine, key string, stage checkpoint.Stage) error {
	if err := p.saveSnapshot(machine); err != nil {
		return err
	}

	st := machine.StageState(key, stage)
	entry := checkpoint.HistoryEntry{
		Unit:      key,
		Stage:     stage,
		Status:    st.Status,
		Attempted: st.Attempted,
		Succeeded: st.Succeeded,
		Skipped:   st.Skipped,
	}
	if err := p.checkpoints.AppendHistory(entry); err != nil {
		return fmt.Errorf("failed to append checkpoint history: %w", err)
	}
	return nil
}

func (p *Pipeline) saveSnapshot(machine *StateMachine) error {
	if err := p.checkpoints.Save(machine.Snapshot()); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	p.metrics.IncSnapshotWrite()
	return nil
}

func toOutcome[P any](agg runner.Aggregate[P]) StageOutcome {
	return StageOutcome{
		Attempted:   agg.Attempted,
		Succeeded:   agg.Succeeded,
		Skipped:     agg.Skipped,
		Done:        agg.Done,
		Interrupted: agg.Interrupted,
	}
}
