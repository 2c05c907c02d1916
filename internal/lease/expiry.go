package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/property"
)

// ExpirerConfig controls the expiry sweep.
type ExpirerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Expirer moves active leases past their end date to expired and frees
// their units.
type Expirer struct {
	store    *Store
	units    UnitStatusSetter
	notifier Notifier
	audit    audit.Logger
	cfg      ExpirerConfig
	now      func() time.Time
}

func NewExpirer(store *Store, units UnitStatusSetter, notifier Notifier, auditLog audit.Logger, cfg ExpirerConfig) *Expirer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Expirer{store: store, units: units, notifier: notifier, audit: auditLog, cfg: cfg, now: time.Now}
}

// ExpireOnce expires one batch of due leases. Run it in a transaction as
// the system session.
func (e *Expirer) ExpireOnce(ctx context.Context, q database.Querier) (int, error) {
	expired, err := e.store.ExpireDue(ctx, q, e.now().UTC(), e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, x := range expired {
		if err := e.units.SetUnitStatus(ctx, q, x.UnitID, property.UnitVacant); err != nil {
			return 0, fmt.Errorf("freeing unit %s: %w", x.UnitID, err)
		}
		for _, userID := range []string{x.TenantID, x.LandlordID} {
			err := e.notifier.Enqueue(ctx, q, notification.Draft{
				UserID: userID,
				Kind:   notification.KindLeaseExpired,
				Title:  "A lease has expired",
				Data:   map[string]any{"lease_id": x.ID, "unit_id": x.UnitID},
			})
			if err != nil {
				return 0, err
			}
		}
	}
	return len(expired), nil
}

// Run sweeps every Interval until ctx is done. Each batch commits on its own
// so a large backlog does not hold locks for long.
func (e *Expirer) Run(ctx context.Context, pool *database.Pool) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		e.sweep(ctx, pool)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Expirer) sweep(ctx context.Context, pool *database.Pool) {
	for ctx.Err() == nil {
		var n int
		err := database.WithSessionTx(ctx, pool, database.System(), func(ctx context.Context, q database.Querier) error {
			var err error
			n, err = e.ExpireOnce(ctx, q)
			return err
		})
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("lease expiry failed", "error", err)
			}
			return
		}
		if n > 0 {
			slog.Info("leases expired", "count", n)
			e.audit.Log(ctx, audit.Event{
				Action:       audit.ActionLeaseExpired,
				ResourceType: "lease",
				Metadata:     map[string]any{"count": n},
				Source:       audit.SourceWorker,
			})
		}
		if n < e.cfg.BatchSize {
			return
		}
	}
}
