package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/coursetrail/pkg/async"
	"github.com/platinummonkey/coursetrail/pkg/audit"
	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// AlertTypeHighRisk is the alert type sent for high and critical events
const AlertTypeHighRisk = "audit.high_risk"

// Headers set on every delivery
const (
	HeaderSignature = "X-Coursetrail-Signature"
	HeaderAlertType = "X-Coursetrail-Alert"
	HeaderDelivery  = "X-Coursetrail-Delivery"
)

// Endpoint is a webhook receiving alerts
type Endpoint struct {
	URL    string
	Secret string
}

// Alert is the JSON body posted to each endpoint
type Alert struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Event     *audit.AuditEvent `json:"event"`
}

// Config configures a WebhookNotifier
type Config struct {
	Endpoints []Endpoint
	// MinRisk is the lowest risk level alerted; defaults to high
	MinRisk   audit.RiskLevel
	Workers   int
	QueueSize int
	// Timeout bounds a single HTTP attempt
	Timeout time.Duration
	Retry   RetryConfig
}

// WebhookNotifier delivers alerts in the background. It implements
// audit.Notifier.
type WebhookNotifier struct {
	endpoints []Endpoint
	minRisk   audit.RiskLevel
	client    *http.Client
	retry     RetryConfig
	pool      *async.WorkerPool
	logger    *observability.Logger
	metrics   *observability.Metrics

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewWebhookNotifier validates the endpoints and starts the delivery workers
func NewWebhookNotifier(ctx context.Context, cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*WebhookNotifier, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one alert endpoint is required")
	}
	for _, ep := range cfg.Endpoints {
		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid alert endpoint URL %q", ep.URL)
		}
	}
	if cfg.MinRisk == "" {
		cfg.MinRisk = audit.RiskHigh
	}
	if _, ok := riskRank[cfg.MinRisk]; !ok {
		return nil, fmt.Errorf("invalid minimum risk level %q", cfg.MinRisk)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	retry := cfg.Retry.withDefaults()
	budget := time.Duration(retry.MaxAttempts) * (cfg.Timeout + retry.MaxDelay)

	return &WebhookNotifier{
		endpoints: cfg.Endpoints,
		minRisk:   cfg.MinRisk,
		client:    &http.Client{Timeout: cfg.Timeout},
		retry:     retry,
		pool:      async.NewWorkerPool(ctx, cfg.Workers, cfg.QueueSize, "alert delivery", budget, logger),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

var riskRank = map[audit.RiskLevel]int{
	audit.RiskLow:      0,
	audit.RiskMedium:   1,
	audit.RiskHigh:     2,
	audit.RiskCritical: 3,
}

// Notify queues one delivery per endpoint. Events below the minimum risk
// level are ignored; a full queue drops the alert.
func (n *WebhookNotifier) Notify(ctx context.Context, event *audit.AuditEvent) {
	if riskRank[event.RiskLevel] < riskRank[n.minRisk] {
		return
	}

	alert := Alert{
		ID:        uuid.NewString(),
		Type:      AlertTypeHighRisk,
		Timestamp: n.now().UTC(),
		Event:     event,
	}
	body, err := json.Marshal(alert)
	if err != nil {
		n.count("failed")
		n.logger.WithError(err).Error("Failed to encode alert")
		return
	}

	for _, ep := range n.endpoints {
		ep := ep
		err := n.pool.TrySubmit(func(ctx context.Context) error {
			return n.deliver(ctx, ep, alert.ID, body)
		})
		if err != nil {
			n.count("dropped")
			n.logger.WithError(err).WithFields(map[string]interface{}{
				"alert_id": alert.ID,
				"event_id": event.ID,
			}).Warn("Alert dropped")
		}
	}
}

// Close stops accepting alerts and waits up to timeout for queued deliveries
func (n *WebhookNotifier) Close(timeout time.Duration) error {
	return n.pool.Shutdown(timeout)
}

func (n *WebhookNotifier) deliver(ctx context.Context, ep Endpoint, alertID string, body []byte) error {
	for attempt := 1; ; attempt++ {
		err := n.send(ctx, ep, alertID, body)
		if err == nil {
			n.count("delivered")
			n.logger.WithFields(map[string]interface{}{
				"alert_id": alertID,
				"endpoint": ep.URL,
				"attempts": attempt,
			}).Debug("Alert delivered")
			return nil
		}

		if !n.retry.retryable(attempt, err) {
			n.count("failed")
			return fmt.Errorf("alert %s to %s failed after %d attempts: %w", alertID, ep.URL, attempt, err)
		}
		if err := n.sleep(ctx, n.retry.backoff(attempt)); err != nil {
			n.count("failed")
			return fmt.Errorf("alert %s to %s abandoned: %w", alertID, ep.URL, err)
		}
	}
}

func (n *WebhookNotifier) send(ctx context.Context, ep Endpoint, alertID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return &permanentError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAlertType, AlertTypeHighRisk)
	req.Header.Set(HeaderDelivery, alertID)
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(ep.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return &permanentError{err: fmt.Errorf("endpoint rejected alert with status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func (n *WebhookNotifier) count(status string) {
	if n.metrics != nil {
		n.metrics.AlertDeliveriesTotal.WithLabelValues(status).Inc()
	}
}

// Sign returns the signature header value for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
