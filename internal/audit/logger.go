package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ireside/ireside/internal/platform/database"
)

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// AsyncLogger implements Logger with a buffered channel and background worker.
type AsyncLogger struct {
	ch      chan Event
	store   *Store
	db      database.Querier
	cfg     LoggerConfig
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	once    sync.Once
	dropped atomic.Int64
}

// NewAsyncLogger creates and starts an async audit logger. db must accept
// inserts into audit_events, which every session may do.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig) *AsyncLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &AsyncLogger{
		ch:     make(chan Event, cfg.BufferSize),
		store:  store,
		db:     db,
		cfg:    cfg,
		cancel: cancel,
	}

	l.wg.Add(1)
	go l.worker(ctx)

	return l
}

// Log enqueues an audit event. It never blocks; events are dropped when
// the buffer is full.
func (l *AsyncLogger) Log(_ context.Context, event Event) {
	if event.Source == "" {
		event.Source = SourceAPI
	}
	select {
	case l.ch <- event:
	default:
		n := l.dropped.Add(1)
		slog.Warn("audit buffer full, dropping event", "action", event.Action, "dropped_total", n)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (l *AsyncLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close flushes remaining events and stops the worker. It is safe to call
// more than once.
func (l *AsyncLogger) Close() error {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.flush(l.drainAll())
	})
	return nil
}

func (l *AsyncLogger) worker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			l.flush(append(batch, l.drainAll()...))
			return

		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *AsyncLogger) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for start := 0; start < len(events); start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, len(events))
		if err := l.store.InsertBatch(ctx, l.db, events[start:end]); err != nil {
			slog.Error("audit flush failed", "error", err, "count", end-start)
		}
	}
}

func (l *AsyncLogger) drainAll() []Event {
	var events []Event
	for {
		select {
		case e := <-l.ch:
			events = append(events, e)
		default:
			return events
		}
	}
}
