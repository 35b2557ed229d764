package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/fabsync/internal/model"
)

// BatchSender sends queued statements in one round trip. *pgxpool.Pool
// satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer configuration.
type Config struct {
	BatchSize     int           // Flush when this many rows are pending
	FlushInterval time.Duration // Flush pending rows at least this often
	BufferSize    int           // Queue limit; transitions beyond it are dropped
	WriteTimeout  time.Duration // Per-flush deadline
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		BufferSize:    1000,
		WriteTimeout:  10 * time.Second,
	}
}

// Metrics contains writer statistics.
type Metrics struct {
	Inserts   int64      `json:"inserts"`
	Conflicts int64      `json:"conflicts"`
	Flushes   int64      `json:"flushes"`
	Errors    int64      `json:"errors"`
	Queue     QueueStats `json:"queue"`
}

// Writer journals status transitions.
type Writer struct {
	cfg    Config
	db     BatchSender
	queue  *Queue[model.StatusTransition]
	logger *slog.Logger

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	metrics Metrics
}

// NewWriter creates a Writer.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		queue:  NewQueue[model.StatusTransition](min(cfg.BatchSize, cfg.BufferSize), cfg.BufferSize),
		logger: logger.With("component", "journal"),
	}
}

// Record queues a transition. Returns false if the queue is full.
func (w *Writer) Record(t model.StatusTransition) bool {
	return w.queue.Push(t)
}

// Start begins writing queued transitions.
func (w *Writer) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop stops the writer and flushes what is still queued.
func (w *Writer) Stop(ctx context.Context) error {
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
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	for w.queue.Len() > 0 {
		if !w.flush(ctx, w.cfg.BatchSize) {
			break
		}
	}
	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.mu.Lock()
	m := w.metrics
	w.mu.Unlock()
	m.Queue = w.queue.Stats()
	return m
}

// run flushes full batches as they fill and partial ones on the ticker.
func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.queue.Ready():
			for w.queue.Len() >= w.cfg.BatchSize {
				if !w.flush(ctx, w.cfg.BatchSize) {
					break
				}
			}
		case <-ticker.C:
			w.flush(ctx, 0)
		}
	}
}

// flush writes up to n queued rows (all when n <= 0). Returns false on a
// write error; the failed rows are dropped and counted.
func (w *Writer) flush(ctx context.Context, n int) bool {
	rows := w.queue.PopBatch(n)
	if len(rows) == 0 {
		return true
	}

	// Stop cancels ctx before the final flush; that flush still needs a
	// live deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.mu.Lock()
		w.metrics.Errors++
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	w.metrics.Inserts += int64(len(rows) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.mu.Unlock()

	w.logger.Debug("flushed status transitions",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return true
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []model.StatusTransition) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.OrderID,
			string(r.From),
			string(r.To),
			string(r.Source),
			r.ObservedAt.UTC(),
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
