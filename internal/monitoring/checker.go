package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker ties a Collector to an Alerter on a fixed interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker creates a Checker. cfg supplies the interval and lookback.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run checks once immediately and then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	every := c.interval()
	c.log.Info("health checker started",
		zap.Duration("interval", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)
	defer c.log.Info("health checker stopped")

	if ctx.Err() != nil {
		return
	}
	c.Check(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one collect/evaluate/send cycle and returns the alerts raised
// and how many reached the webhook. A failed collection is itself an alert.
func (c *Checker) Check(ctx context.Context) ([]Alert, int) {
	var alerts []Alert
	if snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours); err != nil {
		c.log.Error("collect health metrics", zap.Error(err))
		alerts = append(alerts, collectFailure(err))
	} else {
		alerts = c.alerter.Evaluate(snap)
	}

	if len(alerts) == 0 {
		c.log.Debug("store healthy")
		return nil, 0
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("health check raised alerts",
		zap.Int("alerts", len(alerts)),
		zap.Int("sent", sent),
	)
	return alerts, sent
}
