package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is a persisted price reading that differed from the
// previously processed one for its symbol.
type PriceObservation struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observedAt"`
}
