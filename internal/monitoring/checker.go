package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/config"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once, then on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	c.log.Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
				c.log.Error("monitoring: check failed", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects a snapshot, evaluates it and sends any alerts. The
// triggered alerts are returned.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, err
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: no alerts triggered", zap.Int("total", snap.Total))
		return nil, nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts, nil
}
