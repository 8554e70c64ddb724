// Package models defines the core domain entities: alerts and price observations.
package models

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Condition is the direction an alert waits for.
type Condition string

const (
	ConditionAbove Condition = "ABOVE"
	ConditionBelow Condition = "BELOW"
)

// ParseCondition accepts ABOVE or BELOW in any case.
func ParseCondition(s string) (Condition, error) {
	switch c := Condition(strings.ToUpper(strings.TrimSpace(s))); c {
	case ConditionAbove, ConditionBelow:
		return c, nil
	default:
		return "", fmt.Errorf("unknown condition %q", s)
	}
}

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	return c == ConditionAbove || c == ConditionBelow
}

// Matches reports whether price satisfies the condition against target.
// Both directions include the boundary.
func (c Condition) Matches(price, target decimal.Decimal) bool {
	switch c {
	case ConditionAbove:
		return price.GreaterThanOrEqual(target)
	case ConditionBelow:
		return price.LessThanOrEqual(target)
	default:
		return false
	}
}

// Alert is a user-defined threshold rule for one symbol.
// Triggered only ever moves from false to true.
type Alert struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	TargetPrice decimal.Decimal `json:"targetPrice"`
	Condition   Condition       `json:"condition"`
	Triggered   bool            `json:"triggered"`
	UserEmail   string          `json:"userEmail"`
	CreatedAt   time.Time       `json:"createdAt"`
	TriggeredAt time.Time       `json:"triggeredAt,omitzero"`
}

// FieldError reports which alert field failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// NormalizeSymbol trims and upper-cases a market symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Validate checks alert field constraints.
func (a *Alert) Validate() error {
	if a.Symbol == "" {
		return &FieldError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if !a.TargetPrice.IsPositive() {
		return &FieldError{Field: "targetPrice", Message: "target price must be greater than zero"}
	}
	if !a.Condition.Valid() {
		return &FieldError{Field: "condition", Message: "condition must be ABOVE or BELOW"}
	}
	if a.UserEmail == "" {
		return &FieldError{Field: "userEmail", Message: "user email is required"}
	}
	if addr, err := mail.ParseAddress(a.UserEmail); err != nil || addr.Address != a.UserEmail {
		return &FieldError{Field: "userEmail", Message: "please provide a valid email address"}
	}
	return nil
}

// Matches reports whether price fires this alert. Triggered alerts never match.
func (a *Alert) Matches(price decimal.Decimal) bool {
	return !a.Triggered && a.Condition.Matches(price, a.TargetPrice)
}
