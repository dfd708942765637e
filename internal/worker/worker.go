package worker

import (
	"context"
	"fmt"
	"time"

	"sugu-checkout/config"
	"sugu-checkout/internal/broker"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/util"

	"go.uber.org/zap"
)

// DraftReporter lists DRAFT orders older than a number of days.
type DraftReporter interface {
	Report(ctx context.Context, days int) ([]models.StaleDraft, error)
}

// Locker is a distributed lock.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
}

// Notifier receives the sweep report.
type Notifier interface {
	Emit(ctx context.Context, n *models.Notification)
}

// StaleDraftWorker reports abandoned drafts on a schedule. Across instances,
// each interval slot is reported once.
type StaleDraftWorker struct {
	reporter DraftReporter
	locker   Locker
	notifier Notifier
	days     int
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewStaleDraftWorker creates a new stale draft worker
func NewStaleDraftWorker(reporter DraftReporter, locker Locker, notifier Notifier, cfg config.DraftConfig) *StaleDraftWorker {
	return &StaleDraftWorker{
		reporter: reporter,
		locker:   locker,
		notifier: notifier,
		days:     cfg.StaleDays,
		interval: cfg.SweepInterval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Start sweeps immediately, then every interval until ctx is done.
func (w *StaleDraftWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stale draft worker",
		zap.Int("days", w.days),
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Stale draft sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping stale draft worker")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce reports stale drafts unless another instance already did so for
// the current slot. It returns the drafts it reported.
func (w *StaleDraftWorker) RunOnce(ctx context.Context) ([]models.StaleDraft, error) {
	slot := w.now().Truncate(w.interval)
	acquired, err := w.locker.AcquireLock(ctx, fmt.Sprintf("stale-draft-sweep:%d", slot.Unix()), w.interval)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !acquired {
		w.logger.Debug("Stale draft sweep already done for this slot")
		return nil, nil
	}

	drafts, err := w.reporter.Report(ctx, w.days)
	if err != nil {
		return nil, err
	}

	util.StaleDraftsGauge.Set(float64(len(drafts)))
	for _, d := range drafts {
		w.logger.Warn("Stale draft order",
			zap.Int64("order_id", d.OrderID),
			zap.String("order_number", d.OrderNumber),
			zap.Int64("user_id", d.UserID),
			zap.Int("age_days", d.AgeDays),
			zap.String("total", d.Total.String()))
	}
	w.logger.Info("Stale draft sweep completed", zap.Int("count", len(drafts)))

	n := &models.Notification{Drafts: drafts, Count: int64(len(drafts))}
	n.EventType = models.EventTypeStaleDraftsReported
	w.notifier.Emit(ctx, n)
	return drafts, nil
}

// LoginRecorder counts failed logins.
type LoginRecorder interface {
	Record(ctx context.Context, username, ip string) (bool, error)
}

// AuthEventWorker feeds LOGIN_FAILED events from the auth topic to the
// login-failure monitor.
type AuthEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAuthEventWorker creates a new auth event worker
func NewAuthEventWorker(consumer *broker.Consumer, monitor LoginRecorder) *AuthEventWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnLoginFailed(func(ctx context.Context, e *models.LoginFailedEvent) error {
		_, err := monitor.Record(ctx, e.Username, e.ClientIP)
		return err
	})

	return &AuthEventWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *AuthEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting auth event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AuthEventWorker) Stop() error {
	w.logger.Info("Stopping auth event worker")
	return w.consumer.Close()
}
