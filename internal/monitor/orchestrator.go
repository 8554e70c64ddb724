package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/rewired-gh/pricewatch/internal/logger"
)

// SymbolProcessor handles one symbol per cycle.
type SymbolProcessor interface {
	FetchAndProcess(ctx context.Context, symbol string) error
}

// CycleResult summarizes one fetch cycle.
type CycleResult struct {
	Symbols  int
	Failures int
	Duration time.Duration
	Err      error // joined per-symbol failures
}

// AllFailed reports whether every symbol in the cycle failed.
func (r CycleResult) AllFailed() bool {
	return r.Symbols > 0 && r.Failures == r.Symbols
}

// FetchOrchestrator runs one fetch-and-process task per symbol every period.
type FetchOrchestrator struct {
	config    Config
	processor SymbolProcessor
	metrics   *Metrics

	lastDuration atomic.Int64
	onCycle      func(CycleResult)
}

func NewFetchOrchestrator(config Config, processor SymbolProcessor, metrics *Metrics) *FetchOrchestrator {
	if config.Period <= 0 {
		config.Period = DefaultConfig().Period
	}
	if config.Concurrency <= 0 {
		config.Concurrency = max(len(config.Symbols), 1)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &FetchOrchestrator{
		config:    config,
		processor: processor,
		metrics:   metrics,
	}
}

// OnCycle registers fn to run after every completed cycle. Overlapping
// cycles may call fn concurrently. Register before Run.
func (o *FetchOrchestrator) OnCycle(fn func(CycleResult)) {
	o.onCycle = fn
}

// RunCycle processes every configured symbol concurrently and returns once
// all of them have finished.
func (o *FetchOrchestrator) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	o.metrics.CyclesInFlight.Inc()
	defer o.metrics.CyclesInFlight.Dec()

	var failures atomic.Int32
	p := pool.New().WithErrors().WithMaxGoroutines(o.config.Concurrency)
	for _, symbol := range o.config.Symbols {
		p.Go(func() error {
			if err := o.processor.FetchAndProcess(ctx, symbol); err != nil {
				failures.Add(1)
				return err
			}
			return nil
		})
	}
	err := p.Wait()

	duration := time.Since(start)
	o.lastDuration.Store(int64(duration))
	o.metrics.CycleDuration.Observe(duration.Seconds())

	result := CycleResult{
		Symbols:  len(o.config.Symbols),
		Failures: int(failures.Load()),
		Duration: duration,
		Err:      err,
	}
	logger.Debug("Cycle completed in %v: %d symbols, %d failed", duration, result.Symbols, result.Failures)
	return result
}

// LastCycleDuration returns the wall time of the most recently finished cycle.
func (o *FetchOrchestrator) LastCycleDuration() time.Duration {
	return time.Duration(o.lastDuration.Load())
}

// Run waits for the initial delay and then starts a cycle every period until
// ctx is cancelled. A cycle that outlasts the period overlaps with the next.
// In-flight cycles are not cancelled; Run returns after they finish.
func (o *FetchOrchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	if o.config.InitialDelay > 0 {
		timer := time.NewTimer(o.config.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	cycleCtx := context.WithoutCancel(ctx)
	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := o.RunCycle(cycleCtx)
			if o.onCycle != nil {
				o.onCycle(result)
			}
		}()
	}

	logger.Info("Starting fetch cycles for %d symbols every %v", len(o.config.Symbols), o.config.Period)
	ticker := time.NewTicker(o.config.Period)
	defer ticker.Stop()

	launch()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Fetch scheduler stopping, waiting for in-flight cycles")
			return
		case <-ticker.C:
			launch()
		}
	}
}
