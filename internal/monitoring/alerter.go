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

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertErrorRate     AlertType = "error_rate"
	AlertReviewBacklog AlertType = "review_backlog"
	AlertHighAnomalies AlertType = "high_severity_anomalies"
)

// minErrorSample is the number of results needed before the error rate
// can alert.
const minErrorSample = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	errored := snap.StatusCounts[model.StatusError]
	if a.cfg.ErrorRateThreshold > 0 && snap.Total >= minErrorSample && snap.ErrorRate > a.cfg.ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Pipeline error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d invoices in last %dh)",
				snap.ErrorRate*100, a.cfg.ErrorRateThreshold*100, errored, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.ErrorRate,
				"threshold":  a.cfg.ErrorRateThreshold,
				"errors":     errored,
				"total":      snap.Total,
				"dlq_depth":  snap.DLQDepth,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ReviewBacklogThreshold > 0 && snap.ReviewBacklog > a.cfg.ReviewBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d invoices awaiting review exceeds threshold %d",
				snap.ReviewBacklog, a.cfg.ReviewBacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.ReviewBacklog,
				"threshold": a.cfg.ReviewBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if high := snap.UnresolvedAnomalies[model.SeverityHigh]; high > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertHighAnomalies,
			Severity: "high",
			Message:  fmt.Sprintf("%d unresolved high-severity anomaly record(s)", high),
			Details: map[string]any{
				"high":   high,
				"medium": snap.UnresolvedAnomalies[model.SeverityMedium],
				"low":    snap.UnresolvedAnomalies[model.SeverityLow],
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
