package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAlertValidate(t *testing.T) {
	tests := []struct {
		name      string
		alert     Alert
		wantField string
	}{
		{
			name: "valid alert",
			alert: Alert{
				Symbol:      "BTCUSDT",
				TargetPrice: decimal.NewFromInt(50000),
				Condition:   ConditionAbove,
				UserEmail:   "a@x.com",
			},
		},
		{
			name: "empty symbol",
			alert: Alert{
				TargetPrice: decimal.NewFromInt(50000),
				Condition:   ConditionAbove,
				UserEmail:   "a@x.com",
			},
			wantField: "symbol",
		},
		{
			name: "zero target",
			alert: Alert{
				Symbol:    "BTCUSDT",
				Condition: ConditionBelow,
				UserEmail: "a@x.com",
			},
			wantField: "targetPrice",
		},
		{
			name: "negative target",
			alert: Alert{
				Symbol:      "BTCUSDT",
				TargetPrice: decimal.NewFromInt(-1),
				Condition:   ConditionBelow,
				UserEmail:   "a@x.com",
			},
			wantField: "targetPrice",
		},
		{
			name: "unknown condition",
			alert: Alert{
				Symbol:      "BTCUSDT",
				TargetPrice: decimal.NewFromInt(1),
				Condition:   "SIDEWAYS",
				UserEmail:   "a@x.com",
			},
			wantField: "condition",
		},
		{
			name: "missing email",
			alert: Alert{
				Symbol:      "BTCUSDT",
				TargetPrice: decimal.NewFromInt(1),
				Condition:   ConditionAbove,
			},
			wantField: "userEmail",
		},
		{
			name: "malformed email",
			alert: Alert{
				Symbol:      "BTCUSDT",
				TargetPrice: decimal.NewFromInt(1),
				Condition:   ConditionAbove,
				UserEmail:   "not-an-email",
			},
			wantField: "userEmail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alert.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Alert.Validate() error = %v, want nil", err)
				}
				return
			}
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("Alert.Validate() error = %v, want *FieldError", err)
			}
			if fe.Field != tt.wantField {
				t.Errorf("field = %q, want %q", fe.Field, tt.wantField)
			}
		})
	}
}

func TestConditionMatches(t *testing.T) {
	target := decimal.NewFromInt(100)
	tests := []struct {
		cond  Condition
		price string
		want  bool
	}{
		{ConditionAbove, "99.99", false},
		{ConditionAbove, "100", true},
		{ConditionAbove, "100.00", true},
		{ConditionAbove, "101", true},
		{ConditionBelow, "101", false},
		{ConditionBelow, "100", true},
		{ConditionBelow, "99", true},
		{Condition("OTHER"), "100", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.cond)+"_"+tt.price, func(t *testing.T) {
			got := tt.cond.Matches(decimal.RequireFromString(tt.price), target)
			if got != tt.want {
				t.Errorf("%s.Matches(%s, 100) = %v, want %v", tt.cond, tt.price, got, tt.want)
			}
		})
	}
}

func TestTriggeredAlertNeverMatches(t *testing.T) {
	a := Alert{TargetPrice: decimal.NewFromInt(100), Condition: ConditionAbove, Triggered: true}
	if a.Matches(decimal.NewFromInt(200)) {
		t.Error("triggered alert matched")
	}
}

func TestParseCondition(t *testing.T) {
	if c, err := ParseCondition(" below "); err != nil || c != ConditionBelow {
		t.Errorf("ParseCondition(below) = %q, %v", c, err)
	}
	if _, err := ParseCondition("up"); err == nil {
		t.Error("expected error for unknown condition")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	if got := NormalizeSymbol("  btcusdt "); got != "BTCUSDT" {
		t.Errorf("NormalizeSymbol = %q", got)
	}
}
