package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"kryptometer/internal/watchlist"
	"kryptometer/logger"
	"kryptometer/models"
)

// Evaluator holds the price alerts and checks them against reconciled
// prices. Triggering is a one-shot edge: once an alert fires it stays
// triggered until the user resets it. Owned by the engine loop.
type Evaluator struct {
	alerts   []models.PriceAlert
	notifier Notifier
	log      *logger.Entry
}

func NewEvaluator(alerts []models.PriceAlert, notifier Notifier) *Evaluator {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	return &Evaluator{
		alerts:   alerts,
		notifier: notifier,
		log:      logger.GetLogger().WithComponent("alerts"),
	}
}

// Add creates a new alert and returns it.
func (e *Evaluator) Add(symbol string, alertType models.AlertType, price float64) (models.PriceAlert, error) {
	sym := watchlist.Normalize(symbol)
	if sym == "" {
		return models.PriceAlert{}, fmt.Errorf("empty symbol")
	}
	if alertType != models.AlertAbove && alertType != models.AlertBelow {
		return models.PriceAlert{}, fmt.Errorf("invalid alert type %q", alertType)
	}
	if price <= 0 {
		return models.PriceAlert{}, fmt.Errorf("threshold must be positive, got %v", price)
	}

	alert := models.PriceAlert{
		ID:        uuid.NewString(),
		Symbol:    sym,
		Type:      alertType,
		Price:     price,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	e.alerts = append(e.alerts, alert)
	return alert, nil
}

// Remove deletes an alert by id. Returns false when no alert matches.
func (e *Evaluator) Remove(id string) bool {
	for i, a := range e.alerts {
		if a.ID == id {
			e.alerts = append(e.alerts[:i], e.alerts[i+1:]...)
			return true
		}
	}
	return false
}

// Toggle flips the enabled flag. A disabled alert keeps its record and
// its triggered state but is skipped by evaluation.
func (e *Evaluator) Toggle(id string) bool {
	for i := range e.alerts {
		if e.alerts[i].ID == id {
			e.alerts[i].Enabled = !e.alerts[i].Enabled
			return true
		}
	}
	return false
}

// Reset clears the triggered latch so the alert can fire again.
func (e *Evaluator) Reset(id string) bool {
	for i := range e.alerts {
		if e.alerts[i].ID == id {
			e.alerts[i].Triggered = false
			return true
		}
	}
	return false
}

// List returns a copy of all alerts.
func (e *Evaluator) List() []models.PriceAlert {
	out := make([]models.PriceAlert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

// SetAll replaces the alert list, used when loading persisted state.
func (e *Evaluator) SetAll(alerts []models.PriceAlert) {
	e.alerts = append([]models.PriceAlert(nil), alerts...)
}

// Evaluate checks every enabled, untriggered alert against the current
// prices and returns the alerts that fired on this pass. The notifier
// side effect runs once per trigger edge and is best-effort.
func (e *Evaluator) Evaluate(prices map[string]float64) []models.PriceAlert {
	var fired []models.PriceAlert
	for i := range e.alerts {
		a := &e.alerts[i]
		if !a.Enabled || a.Triggered {
			continue
		}
		price, ok := prices[a.Symbol]
		if !ok {
			continue
		}

		hit := (a.Type == models.AlertAbove && price >= a.Price) ||
			(a.Type == models.AlertBelow && price <= a.Price)
		if !hit {
			continue
		}

		a.Triggered = true
		fired = append(fired, *a)
		logger.IncrementAlertTriggered()

		e.log.WithFields(logger.Fields{
			"alert_id":  a.ID,
			"symbol":    a.Symbol,
			"type":      string(a.Type),
			"threshold": a.Price,
			"price":     price,
		}).Info("price alert triggered")

		if err := e.notifier.Notify(*a, price); err != nil {
			e.log.WithError(err).Warn("alert notification failed")
		}
	}
	return fired
}
