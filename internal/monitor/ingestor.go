package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/errs"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
)

// PriceIngestor turns fetched prices into alert evaluations and persisted
// observations.
type PriceIngestor struct {
	source    PriceSource
	prices    PriceStore
	cache     *PriceCache
	matcher   *AlertMatcher
	publisher Publisher
	metrics   *Metrics
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPriceIngestor wires the ingestion path. publisher may be nil.
func NewPriceIngestor(
	source PriceSource,
	prices PriceStore,
	cache *PriceCache,
	matcher *AlertMatcher,
	publisher Publisher,
	metrics *Metrics,
) *PriceIngestor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &PriceIngestor{
		source:    source,
		prices:    prices,
		cache:     cache,
		matcher:   matcher,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lock serializes processing of one symbol across overlapping cycles.
func (in *PriceIngestor) lock(symbol string) func() {
	in.locksMu.Lock()
	mu, ok := in.locks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		in.locks[symbol] = mu
	}
	in.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// ProcessPrice handles one fetched price. An unchanged price is a no-op.
// A changed price is evaluated against active alerts and then persisted;
// an evaluation failure is logged and does not prevent persistence.
func (in *PriceIngestor) ProcessPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	const op = "monitor.ProcessPrice"

	unlock := in.lock(symbol)
	defer unlock()

	if !in.cache.CompareAndUpdate(symbol, price) {
		logger.Debug("%s unchanged at %s", symbol, price)
		return nil
	}

	var scanErr error
	if err := in.matcher.CheckAlarms(ctx, symbol, price); err != nil {
		logger.Warn("Alert scan for %s failed: %v", symbol, err)
		scanErr = err
	}

	obs := models.PriceObservation{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: in.now(),
	}
	if err := in.prices.SaveObservation(ctx, obs); err != nil {
		return errors.Join(scanErr, persistErr(op, err))
	}
	in.metrics.ObservationsSaved.Inc()

	if in.publisher != nil {
		in.publisher.Publish(obs)
	}
	return scanErr
}

// FetchAndProcess fetches symbol and processes the result. Errors are logged
// here and returned for accounting; they never affect other symbols.
func (in *PriceIngestor) FetchAndProcess(ctx context.Context, symbol string) error {
	price, err := in.source.FetchPrice(ctx, symbol)
	if err != nil {
		in.metrics.Fetches.WithLabelValues("error").Inc()
		logger.WithFields(logger.Fields{
			"symbol": symbol,
			"code":   string(errs.CodeOf(err)),
		}).Warnf("price fetch failed: %v", err)
		return err
	}
	in.metrics.Fetches.WithLabelValues("ok").Inc()

	if err := in.ProcessPrice(ctx, symbol, price); err != nil {
		logger.WithFields(logger.Fields{
			"symbol": symbol,
			"price":  price.String(),
		}).Errorf("price processing failed: %v", err)
		return err
	}
	return nil
}

// Snapshot returns every price ingested by this process.
func (in *PriceIngestor) Snapshot() map[string]decimal.Decimal {
	return in.cache.Snapshot()
}

// LatestPrice returns the cached price for symbol, falling back to the most
// recently persisted observation. The fallback does not warm the cache.
func (in *PriceIngestor) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	const op = "monitor.LatestPrice"

	symbol = models.NormalizeSymbol(symbol)
	if price, ok := in.cache.Get(symbol); ok {
		return price, nil
	}

	obs, err := in.prices.LatestObservation(ctx, symbol)
	if err != nil {
		return decimal.Zero, persistErr(op, err)
	}
	if obs == nil {
		return decimal.Zero, errs.New(errs.CodeNotFound, op, "no data yet for "+symbol)
	}
	return obs.Price, nil
}
