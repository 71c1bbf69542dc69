package runner

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Op processes one sub-item and returns its payload. Implementations must
// make repeated invocation on an already-completed sub-item a cheap no-op;
// the runner bounds concurrency and retries, it does not deduplicate.
type Op[T, P any] func(ctx context.Context, item T) (P, error)

// Options configures a stage run
type Options struct {
	Concurrency int           // max sub-items in flight
	MaxAttempts int           // attempts per sub-item, transient failures only
	BackoffBase time.Duration // first retry delay, doubled each attempt
	BackoffCap  time.Duration // upper bound on a single retry delay
	ItemTimeout time.Duration // hard per-attempt timeout, 0 disables
	GracePeriod time.Duration // how long in-flight items may run after cancellation
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 15 * time.Second
	}
	return o
}

// Aggregate is the outcome of a stage run. Skipped counts sub-items that
// permanently failed or exhausted their retries this run.
type Aggregate[P any] struct {
	Attempted   int
	Succeeded   int
	Skipped     int
	Done        []string // IDs of sub-items that succeeded
	Payloads    []P
	Interrupted bool
}

type itemResult[P any] struct {
	id      string
	payload P
	err     error
	aborted bool
}

// Run executes op over all items with at most Concurrency in flight.
// Transient failures are retried with exponential backoff; permanent
// failures are skipped and counted. Once ctx is cancelled no new items are
// dispatched, in-flight items get GracePeriod to finish, and the partial
// aggregate is returned with Interrupted set.
func Run[T, P any](ctx context.Context, items []T, id func(T) string, op Op[T, P], opts Options, log *zap.Logger) Aggregate[P] {
	opts = opts.withDefaults()

	// Work context outlives ctx by the grace period so in-flight items can
	// drain after an interrupt.
	workCtx, cancelWork := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			timer := time.NewTimer(opts.GracePeriod)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-finished:
			}
		case <-finished:
		}
		cancelWork()
	}()

	tasks := make(chan T)
	var dispatchStopped atomic.Bool
	go func() {
		defer close(tasks)
		for _, item := range items {
			select {
			case tasks <- item:
			case <-ctx.Done():
				dispatchStopped.Store(true)
				return
			}
		}
	}()

	results := make(chan itemResult[P])
	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				results <- process(workCtx, item, id(item), op, opts, log)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(finished)
		close(results)
	}()

	var agg Aggregate[P]
	for res := range results {
		agg.Attempted++
		switch {
		case res.err == nil:
			agg.Succeeded++
			agg.Done = append(agg.Done, res.id)
			agg.Payloads = append(agg.Payloads, res.payload)
		case res.aborted:
			agg.Skipped++
			agg.Interrupted = true
		default:
			agg.Skipped++
		}
	}

	if dispatchStopped.Load() || agg.Attempted < len(items) {
		agg.Interrupted = true
	}
	return agg
}

func process[T, P any](ctx context.Context, item T, itemID string, op Op[T, P], opts Options, log *zap.Logger) itemResult[P] {
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if opts.ItemTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.ItemTimeout)
		}
		payload, err := op(attemptCtx, item)
		cancel()

		if err == nil {
			return itemResult[P]{id: itemID, payload: payload}
		}
		lastErr = err

		if ctx.Err() != nil {
			log.Warn("Sub-item aborted by cancellation", zap.String("item", itemID))
			return itemResult[P]{id: itemID, err: err, aborted: true}
		}
		if IsPermanent(err) {
			log.Warn("Sub-item failed permanently",
				zap.String("item", itemID),
				zap.Error(err),
			)
			return itemResult[P]{id: itemID, err: err}
		}

		log.Warn("Sub-item attempt failed",
			zap.String("item", itemID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < opts.MaxAttempts {
			select {
			case <-time.After(backoff(opts, attempt)):
			case <-ctx.Done():
				return itemResult[P]{id: itemID, err: err, aborted: true}
			}
		}
	}

	log.Error("Sub-item failed after all retries",
		zap.String("item", itemID),
		zap.Int("attempts", opts.MaxAttempts),
		zap.Error(lastErr),
	)
	return itemResult[P]{id: itemID, err: lastErr}
}

func backoff(opts Options, attempt int) time.Duration {
	d := opts.BackoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
	if d > opts.BackoffCap {
		d = opts.BackoffCap
	}
	return d
}
