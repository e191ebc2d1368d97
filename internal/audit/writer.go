package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the audit table.
const Schema = `
CREATE TABLE IF NOT EXISTS relay_events (
	id         BIGSERIAL PRIMARY KEY,
	instance   TEXT        NOT NULL,
	at         TIMESTAMPTZ NOT NULL,
	kind       TEXT        NOT NULL,
	session_id TEXT        NOT NULL DEFAULT '',
	remote     TEXT        NOT NULL DEFAULT '',
	reason     TEXT        NOT NULL DEFAULT '',
	detail     TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS relay_events_at_idx ON relay_events (at);
`

const insertEvent = `
	INSERT INTO relay_events (instance, at, kind, session_id, remote, reason, detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// DB is the subset of *pgxpool.Pool the Writer uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig configures the Writer.
type WriterConfig struct {
	Instance      string        // Relay instance id stored with every row
	BatchSize     int           // Flush when this many events are pending
	FlushInterval time.Duration // Flush at least this often
	BufferSize    int           // Events held before Record starts dropping
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Instance:      "relay",
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		BufferSize:    1024,
	}
}

// WriterStats tracks writer activity.
type WriterStats struct {
	Inserts int64
	Errors  int64
	Flushes int64
	Dropped int64
}

// Writer batches events into PostgreSQL.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger
	db     DB

	input chan Event
	batch []Event

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	flushCtx context.Context // Uncancelled ctx for in-loop flushes
	wg       sync.WaitGroup

	mu      sync.Mutex
	stats   WriterStats
	dropped atomic.Int64
}

// NewWriter creates a new Writer.
func NewWriter(cfg WriterConfig, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "audit_writer"),
		input:  make(chan Event, cfg.BufferSize),
		batch:  make([]Event, 0, cfg.BatchSize),
	}
}

// Migrate creates the audit table if it does not exist.
func (w *Writer) Migrate(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create relay_events: %w", err)
	}
	return nil
}

// Start begins consuming events.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushCtx = context.WithoutCancel(w.ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.logger.Info("audit writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains pending events and performs a final flush bounded by ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping audit writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("audit writer stop timed out")
		return ctx.Err()
	}

	// Drain what Record queued after the loop exited.
drain:
	for {
		select {
		case ev := <-w.input:
			w.batch = append(w.batch, ev)
		default:
			break drain
		}
	}

	w.flush(ctx)
	w.logger.Info("audit writer stopped")
	return nil
}

// Record queues ev. It drops ev when the buffer is full.
func (w *Writer) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case w.input <- ev:
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			w.logger.Warn("audit buffer full, dropping event", "kind", ev.Kind, "dropped", n)
		}
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.stats
	st.Dropped = w.dropped.Load()
	return st
}

// consumeLoop accumulates events and flushes on size or interval.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev := <-w.input:
			w.batch = append(w.batch, ev)
			if len(w.batch) >= w.cfg.BatchSize {
				w.flush(w.flushCtx)
			}

		case <-ticker.C:
			w.flush(w.flushCtx)
		}
	}
}

// flush writes the current batch. Only the consume loop, or Stop after the
// loop has exited, calls it.
func (w *Writer) flush(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}

	batch := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.stats.Inserts += int64(len(batch))
	w.stats.Flushes++
	w.mu.Unlock()

	w.logger.Debug("flushed audit events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (w *Writer) batchInsert(ctx context.Context, events []Event) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertEvent,
			w.cfg.Instance, ev.At, string(ev.Kind), ev.SessionID, ev.Remote, ev.Reason, ev.Detail)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
