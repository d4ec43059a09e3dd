package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"kryptometer/logger"
	"kryptometer/models"
)

// Notifier delivers a triggered alert somewhere visible. Delivery is
// best-effort; a failed notification never blocks or retries.
type Notifier interface {
	Notify(alert models.PriceAlert, price float64) error
}

type logNotifier struct {
	log *logger.Entry
}

// NewLogNotifier returns a notifier that only writes a log line.
func NewLogNotifier() Notifier {
	return &logNotifier{log: logger.GetLogger().WithComponent("notifier")}
}

func (n *logNotifier) Notify(alert models.PriceAlert, price float64) error {
	n.log.WithFields(logger.Fields{
		"symbol":    alert.Symbol,
		"type":      string(alert.Type),
		"threshold": alert.Price,
		"price":     price,
	}).Info("alert notification")
	return nil
}

type webhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier posts triggered alerts to an HTTP endpoint as JSON.
func NewWebhookNotifier(url string, timeout time.Duration) Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &webhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *webhookNotifier) Notify(alert models.PriceAlert, price float64) error {
	payload, err := json.Marshal(map[string]interface{}{
		"alertId":   alert.ID,
		"symbol":    alert.Symbol,
		"type":      string(alert.Type),
		"threshold": alert.Price,
		"price":     price,
		"firedAt":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
