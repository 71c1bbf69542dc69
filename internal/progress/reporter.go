package progress

import (
	"time"

	"go.uber.org/zap"
)

// Reporter receives structured progress events. It is a pure sink: nothing
// it does feeds back into pipeline decisions.
type Reporter interface {
	UnitStarted(key string, resources int)
	UnitSkipped(key string)
	StageCompleted(key, stage, status string, attempted, succeeded, skipped int)
	UnitCompleted(key string)
	UnitFailed(key, stage string)
	RunSummary(status Status, elapsed time.Duration)
}

// LogReporter reports progress through the structured logger.
type LogReporter struct {
	logger  *zap.Logger
	tracker *Tracker
}

// NewLogReporter creates a log-backed reporter that also feeds the tracker.
func NewLogReporter(logger *zap.Logger, tracker *Tracker) *LogReporter {
	return &LogReporter{logger: logger, tracker: tracker}
}

func (r *LogReporter) UnitStarted(key string, resources int) {
	r.logger.Info("Processing unit",
		zap.String("unit", key),
		zap.Int("resources", resources),
	)
}

func (r *LogReporter) UnitSkipped(key string) {
	r.tracker.AddUnitSkipped()
	r.logger.Info("Skipping completed unit", zap.String("unit", key))
}

func (r *LogReporter) StageCompleted(key, stage, status string, attempted, succeeded, skipped int) {
	if stage == "persist" {
		r.tracker.AddRecords(succeeded)
	} else {
		r.tracker.AddDocs(succeeded, skipped)
	}
	r.logger.Info("Stage finished",
		zap.String("unit", key),
		zap.String("stage", stage),
		zap.String("status", status),
		zap.Int("attempted", attempted),
		zap.Int("succeeded", succeeded),
		zap.Int("skipped", skipped),
	)
}

func (r *LogReporter) UnitCompleted(key string) {
	r.tracker.AddUnitCompleted()
	r.logger.Info("Unit completed", zap.String("unit", key))
}

func (r *LogReporter) UnitFailed(key, stage string) {
	r.tracker.AddUnitFailed()
	r.logger.Warn("Unit failed, continuing with next unit",
		zap.String("unit", key),
		zap.String("stage", stage),
	)
}

func (r *LogReporter) RunSummary(status Status, elapsed time.Duration) {
	r.logger.Info("Run summary",
		zap.Int64("units_completed", status.UnitsCompleted),
		zap.Int64("units_failed", status.UnitsFailed),
		zap.Int64("units_skipped", status.UnitsSkipped),
		zap.Int64("documents_succeeded", status.DocsSucceeded),
		zap.Int64("documents_skipped", status.DocsSkipped),
		zap.Int64("records_inserted", status.Records),
		zap.Duration("elapsed", elapsed),
	)
}
