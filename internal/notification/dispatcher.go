package notification

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/realtime"
)

// Sender delivers a claimed notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type outboxStore interface {
	ClaimPending(ctx context.Context, q database.Querier, now time.Time, limit int) ([]Notification, error)
	MarkSent(ctx context.Context, q database.Querier, id string) error
	MarkRetry(ctx context.Context, q database.Querier, id string, nextAttempt time.Time, lastError string) error
	MarkDead(ctx context.Context, q database.Querier, id string, lastError string) error
	RecoverStaleSending(ctx context.Context, q database.Querier, staleBefore time.Time, limit int) (int64, error)
}

// DispatcherConfig controls claim and retry behaviour.
type DispatcherConfig struct {
	PollInterval      time.Duration
	ClaimBatchSize    int
	RecoveryBatchSize int
	LockTimeout       time.Duration
	MaxAttempts       int
	BaseRetryDelay    time.Duration
	MaxRetryDelay     time.Duration
	JitterFraction    float64
}

// Dispatcher moves pending notifications through the outbox states.
type Dispatcher struct {
	store  outboxStore
	sender Sender
	cfg    DispatcherConfig
	now    func() time.Time
	jitter func() float64
}

// NewDispatcher creates a dispatcher with safe defaults.
func NewDispatcher(store outboxStore, sender Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = 25
	}
	if cfg.RecoveryBatchSize <= 0 {
		cfg.RecoveryBatchSize = cfg.ClaimBatchSize
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = 5 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 2 * time.Minute
	}
	cfg.JitterFraction = min(max(cfg.JitterFraction, 0), 1)

	return &Dispatcher{
		store:  store,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
		jitter: cryptoRandomUnitFloat64,
	}
}

// DispatchOnce recovers stale locks, then claims and delivers due rows until
// none remain.
func (d *Dispatcher) DispatchOnce(ctx context.Context, q database.Querier) (int, error) {
	now := d.now().UTC()
	if _, err := d.store.RecoverStaleSending(ctx, q, now.Add(-d.cfg.LockTimeout), d.cfg.RecoveryBatchSize); err != nil {
		return 0, fmt.Errorf("recovering stale notifications: %w", err)
	}

	processed := 0
	for {
		claimed, err := d.store.ClaimPending(ctx, q, now, d.cfg.ClaimBatchSize)
		if err != nil {
			return processed, fmt.Errorf("claiming notifications: %w", err)
		}
		if len(claimed) == 0 {
			return processed, nil
		}

		for _, n := range claimed {
			if err := d.deliver(ctx, q, n, now); err != nil {
				return processed, err
			}
			processed++
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, q database.Querier, n Notification, now time.Time) error {
	sendErr := d.sender.Send(ctx, n)
	if sendErr == nil {
		if err := d.store.MarkSent(ctx, q, n.ID); err != nil {
			return fmt.Errorf("marking notification sent: %w", err)
		}
		return nil
	}

	errText := strings.TrimSpace(sendErr.Error())
	if errText == "" {
		errText = "delivery failed"
	}

	maxAttempts := n.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.cfg.MaxAttempts
	}
	attemptsAfter := n.AttemptCount + 1

	if IsPermanentError(sendErr) || attemptsAfter >= maxAttempts {
		if err := d.store.MarkDead(ctx, q, n.ID, errText); err != nil {
			return fmt.Errorf("marking notification dead: %w", err)
		}
		slog.Warn("notification dead", "notification_id", n.ID, "attempts", attemptsAfter, "error", errText)
		return nil
	}

	if err := d.store.MarkRetry(ctx, q, n.ID, now.Add(d.retryDelay(attemptsAfter)), errText); err != nil {
		return fmt.Errorf("marking notification retry: %w", err)
	}
	return nil
}

// Run dispatches every PollInterval as the system session until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, pool *database.Pool) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		err := database.WithSession(ctx, pool, database.System(), func(ctx context.Context, q database.Querier) error {
			_, err := d.DispatchOnce(ctx, q)
			return err
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("notification dispatch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) retryDelay(attemptsAfterFailure int) time.Duration {
	if attemptsAfterFailure <= 0 {
		attemptsAfterFailure = 1
	}

	multiplier := math.Pow(2, float64(attemptsAfterFailure-1))
	delay := time.Duration(float64(d.cfg.BaseRetryDelay) * multiplier)
	if delay > d.cfg.MaxRetryDelay {
		delay = d.cfg.MaxRetryDelay
	}
	if d.cfg.JitterFraction <= 0 {
		return delay
	}

	jitter := min(max(d.jitter(), 0), 1)
	jittered := time.Duration(float64(delay) * (1 + d.cfg.JitterFraction*jitter))
	return min(jittered, d.cfg.MaxRetryDelay)
}

func cryptoRandomUnitFloat64() float64 {
	var randomBytes [8]byte
	if _, err := cryptorand.Read(randomBytes[:]); err != nil {
		return 0
	}

	const mantissaDenominator = 1 << 53
	// Top 53 bits map uniformly into [0, 1).
	mantissa := binary.BigEndian.Uint64(randomBytes[:]) >> 11
	return float64(mantissa) / float64(mantissaDenominator)
}

// BusSender publishes notifications to their recipient over the realtime bus.
type BusSender struct {
	bus realtime.Bus
}

func NewBusSender(bus realtime.Bus) *BusSender {
	return &BusSender{bus: bus}
}

func (s *BusSender) Send(ctx context.Context, n Notification) error {
	e, err := realtime.NewEvent(realtime.TopicNotifications, "notification.created", []string{n.UserID}, n)
	if err != nil {
		return NewPermanentError(err)
	}
	return s.bus.Publish(ctx, e)
}
