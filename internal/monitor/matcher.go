package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/notify"
)

// AlertMatcher evaluates active alerts for a symbol against a new price.
type AlertMatcher struct {
	alerts   AlertStore
	notifier Notifier
	metrics  *Metrics
	now      func() time.Time
}

func NewAlertMatcher(alerts AlertStore, notifier Notifier, metrics *Metrics) *AlertMatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &AlertMatcher{
		alerts:   alerts,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// CheckAlarms fires every active alert for symbol that price satisfies.
// The triggered flag is persisted before the notification is queued, and an
// alert whose flag was already flipped elsewhere is not notified again.
// Failures on one alert do not stop evaluation of the rest.
func (m *AlertMatcher) CheckAlarms(ctx context.Context, symbol string, price decimal.Decimal) error {
	const op = "monitor.CheckAlarms"

	active, err := m.alerts.FindActiveAlerts(ctx, symbol)
	if err != nil {
		return persistErr(op, err)
	}

	var errList []error
	for i := range active {
		alert := &active[i]
		if !alert.Matches(price) {
			continue
		}

		flipped, err := m.alerts.MarkTriggered(ctx, alert.ID, m.now())
		if err != nil {
			logger.WithFields(logger.Fields{
				"alert_id": alert.ID,
				"symbol":   symbol,
			}).Errorf("failed to mark alert triggered: %v", err)
			errList = append(errList, persistErr(op, err))
			continue
		}
		if !flipped {
			logger.Debug("Alert %s already triggered, skipping notification", alert.ID)
			continue
		}

		m.metrics.AlertsTriggered.Inc()
		logger.WithFields(logger.Fields{
			"alert_id":  alert.ID,
			"symbol":    symbol,
			"condition": string(alert.Condition),
			"target":    alert.TargetPrice.String(),
			"price":     price.String(),
		}).Info("alert triggered")

		m.notifier.Notify(notify.Notification{
			AlertID:   alert.ID,
			Recipient: alert.UserEmail,
			Symbol:    symbol,
			Price:     price,
		})
	}
	return errors.Join(errList...)
}
