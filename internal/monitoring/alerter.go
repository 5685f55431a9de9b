package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/config"
	"github.com/sells-group/jobstore/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDLQBacklog     AlertType = "dlq_backlog"
	AlertIngestStalled  AlertType = "ingest_stalled"
	AlertCollectFailure AlertType = "collect_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type" yaml:"type"`
	Severity  string         `json:"severity" yaml:"severity"`
	Message   string         `json:"message" yaml:"message"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.DLQDepthThreshold > 0 && snap.DLQDepth >= a.cfg.DLQDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"Dead-letter spool holds %d candidate(s), threshold %d",
				snap.DLQDepth, a.cfg.DLQDepthThreshold,
			),
			Details: map[string]any{
				"dlq_depth": snap.DLQDepth,
				"threshold": a.cfg.DLQDepthThreshold,
			},
			Timestamp: now,
		})
	}

	// An empty store is a fresh install, not a stall.
	if a.cfg.AlertOnStall && snap.LiveTotal > 0 && snap.Recent == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertIngestStalled,
			Severity: "medium",
			Message: fmt.Sprintf(
				"No postings observed in last %dh (%d live records)",
				snap.LookbackHours, snap.LiveTotal,
			),
			Details: map[string]any{
				"live_total":     snap.LiveTotal,
				"lookback_hours": snap.LookbackHours,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// collectFailure builds the alert raised when metrics cannot be gathered.
func collectFailure(err error) Alert {
	return Alert{
		Type:      AlertCollectFailure,
		Severity:  "high",
		Message:   "Health metrics could not be collected; the store may be unreachable",
		Details:   map[string]any{"error": err.Error()},
		Timestamp: time.Now().UTC(),
	}
}

// SendAlerts posts each alert to the webhook, retrying transient delivery
// failures. It returns how many were accepted. Without a webhook nothing is
// sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	log := zap.L().With(zap.String("component", "monitoring.alerter"))
	retry := a.retry
	retry.OnRetry = resilience.RetryLogger("monitoring.alerter", "webhook")

	var sent int
	for _, alert := range alerts {
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			log.Error("alert delivery failed", zap.String("type", string(alert.Type)), zap.Error(err))
			continue
		}
		log.Info("alert sent", zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(
			eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
