package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/model"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{ErrorRateThreshold: 0.10, ReviewBacklogThreshold: 50}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	snap := &MetricsSnapshot{
		Total:         100,
		StatusCounts:  map[model.PipelineStatus]int{model.StatusCompleted: 95, model.StatusError: 5},
		ErrorRate:     0.05,
		ReviewBacklog: 10,
		LookbackHours: 24,
	}
	assert.Empty(t, NewAlerter(thresholds()).Evaluate(snap))
}

func TestAlerter_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		snap    *MetricsSnapshot
		want    AlertType
		message string
	}{
		{
			name: "error rate",
			snap: &MetricsSnapshot{
				Total:         20,
				StatusCounts:  map[model.PipelineStatus]int{model.StatusError: 8},
				ErrorRate:     0.4,
				LookbackHours: 24,
			},
			want:    AlertErrorRate,
			message: "40.0%",
		},
		{
			name:    "review backlog",
			snap:    &MetricsSnapshot{ReviewBacklog: 51, LookbackHours: 24},
			want:    AlertReviewBacklog,
			message: "51 invoices awaiting review",
		},
		{
			name: "high severity anomalies",
			snap: &MetricsSnapshot{
				UnresolvedAnomalies: map[model.Severity]int{model.SeverityHigh: 2, model.SeverityLow: 7},
			},
			want:    AlertHighAnomalies,
			message: "2 unresolved",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := NewAlerter(thresholds()).Evaluate(tt.snap)
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.want, alerts[0].Type)
			assert.Contains(t, alerts[0].Message, tt.message)
		})
	}
}

func TestAlerter_Evaluate_MinimumSample(t *testing.T) {
	snap := &MetricsSnapshot{
		Total:        3,
		StatusCounts: map[model.PipelineStatus]int{model.StatusError: 2},
		ErrorRate:    0.666,
	}
	assert.Empty(t, NewAlerter(thresholds()).Evaluate(snap))
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	snap := &MetricsSnapshot{Total: 10, ErrorRate: 1, ReviewBacklog: 1000}
	assert.Empty(t, NewAlerter(config.MonitoringConfig{}).Evaluate(snap))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertErrorRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertReviewBacklog, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_NothingToSend(t *testing.T) {
	noURL := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, noURL.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate}}))

	noAlerts := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Zero(t, noAlerts.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate, Message: "test"}}))
}
