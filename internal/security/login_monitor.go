package security

import (
	"context"
	"fmt"
	"time"

	"sugu-checkout/config"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/util"

	"go.uber.org/zap"
)

// WindowCounter counts events in a trailing window and marks one-shot keys.
type WindowCounter interface {
	RecordInWindow(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Notifier receives the alert notification.
type Notifier interface {
	Emit(ctx context.Context, n *models.Notification)
}

// LoginFailureMonitor raises one alert per window when a username keeps
// failing to log in.
type LoginFailureMonitor struct {
	counter   WindowCounter
	notifier  Notifier
	window    time.Duration
	threshold int64
	now       func() time.Time
	logger    *zap.Logger
}

// NewLoginFailureMonitor creates a new login failure monitor
func NewLoginFailureMonitor(counter WindowCounter, notifier Notifier, cfg config.LoginFailureConfig) *LoginFailureMonitor {
	return &LoginFailureMonitor{
		counter:   counter,
		notifier:  notifier,
		window:    time.Duration(cfg.WindowSeconds) * time.Second,
		threshold: int64(cfg.AlertThreshold),
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Record counts one failure and reports whether it raised an alert.
func (m *LoginFailureMonitor) Record(ctx context.Context, username, ip string) (bool, error) {
	count, err := m.counter.RecordInWindow(ctx, "loginfail:"+username, m.window, m.now())
	if err != nil {
		return false, fmt.Errorf("failed to count login failure: %w", err)
	}
	if count < m.threshold {
		return false, nil
	}

	first, err := m.counter.MarkOnce(ctx, "loginfail:alerted:"+username, m.window)
	if err != nil {
		return false, fmt.Errorf("failed to mark login alert: %w", err)
	}
	if !first {
		return false, nil
	}

	util.LoginFailureAlertsTotal.Inc()
	m.logger.Warn("Repeated login failures",
		zap.String("username", username),
		zap.String("client_ip", ip),
		zap.Int64("failures", count),
		zap.Duration("window", m.window))

	n := &models.Notification{Subject: username, ClientIP: ip, Count: count}
	n.EventType = models.EventTypeLoginFailureAlert
	m.notifier.Emit(ctx, n)
	return true, nil
}
