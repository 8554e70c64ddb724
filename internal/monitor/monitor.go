// Package monitor polls symbol prices on a fixed period, detects changes,
// evaluates user alerts against them and persists the observed prices.
package monitor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/errs"
	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/rewired-gh/pricewatch/internal/notify"
)

// PriceSource fetches the current price of a symbol.
type PriceSource interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceStore persists observations. LatestObservation returns nil, nil when
// the symbol has none.
type PriceStore interface {
	SaveObservation(ctx context.Context, obs models.PriceObservation) error
	LatestObservation(ctx context.Context, symbol string) (*models.PriceObservation, error)
}

// AlertStore reads active alerts and flips their triggered flag.
// MarkTriggered reports whether this call performed the flip.
type AlertStore interface {
	FindActiveAlerts(ctx context.Context, symbol string) ([]models.Alert, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error)
}

// Notifier accepts notifications without blocking.
type Notifier interface {
	Notify(n notify.Notification)
}

// Publisher receives every persisted observation.
type Publisher interface {
	Publish(obs models.PriceObservation)
}

// Config controls the fetch schedule.
type Config struct {
	Symbols      []string
	Concurrency  int
	Period       time.Duration
	InitialDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Period:       time.Second,
		InitialDelay: 5 * time.Second,
	}
}

// persistErr wraps err as a persistence failure unless it already carries a code.
func persistErr(op string, err error) error {
	if errs.CodeOf(err) != "" {
		return err
	}
	return errs.Wrap(errs.CodePersistence, op, err)
}
