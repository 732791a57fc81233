package recorder

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/resilientws/internal/connection"
)

// ErrNotStarted is returned by Stop before Start.
var ErrNotStarted = errors.New("recorder not started")

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Kind labels a recorded row.
type Kind string

const (
	KindMessage      Kind = "message"
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindError        Kind = "error"
	KindRetry        Kind = "retry"
)

// Config controls batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // rows held in memory before new rows are dropped
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats counts recorder activity.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
	Pending   int
}

type row struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	At        time.Time
	Kind      Kind
	Detail    string // message payload, or the event description
}

// Recorder buffers client traffic and writes it to the database in batches.
type Recorder struct {
	cfg    Config
	db     DB
	logger *slog.Logger
	now    func() time.Time

	buf  *ringBuffer[row]
	kick chan struct{}

	statsMu sync.Mutex
	stats   Stats

	flushMu sync.Mutex // serializes flushes

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Recorder. Zero config fields take DefaultConfig values.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
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

	initial := cfg.BatchSize * 2
	if initial > cfg.BufferSize {
		initial = cfg.BufferSize
	}
	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "recorder"),
		now:    time.Now,
		buf:    newRingBuffer[row](initial, cfg.BufferSize),
		kick:   make(chan struct{}, 1),
	}
}

// Attach subscribes the recorder to every event bus of c. The returned
// func removes the subscriptions.
func (r *Recorder) Attach(c *connection.Client) (detach func()) {
	connected := c.OnConnected().Register(func(ctx context.Context, _ connection.ConnectedEvent) error {
		r.enqueue(r.eventRow(c.SessionID(), KindConnected, ""))
		return nil
	})
	disconnected := c.OnDisconnected().Register(func(ctx context.Context, e connection.DisconnectedEvent) error {
		r.enqueue(r.eventRow(c.SessionID(), KindDisconnected, disconnectDetail(e)))
		return nil
	})
	errored := c.OnError().Register(func(ctx context.Context, e connection.ErrorEvent) error {
		r.enqueue(r.eventRow(c.SessionID(), KindError, errorDetail(e)))
		return nil
	})
	message := c.OnMessage().Register(func(ctx context.Context, e connection.MessageEvent) error {
		r.enqueue(r.messageRow(c.SessionID(), e))
		return nil
	})
	retry := c.OnRetry().Register(func(ctx context.Context, e connection.RetryEvent) error {
		r.enqueue(r.eventRow(c.SessionID(), KindRetry, e.Description))
		return nil
	})

	return func() {
		c.OnConnected().Unregister(connected)
		c.OnDisconnected().Unregister(disconnected)
		c.OnError().Unregister(errored)
		c.OnMessage().Unregister(message)
		c.OnRetry().Unregister(retry)
	}
}

// Start runs the flush loop until Stop or ctx is canceled.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
		"buffer_size", r.cfg.BufferSize,
	)
	return nil
}

// Stop ends the flush loop and writes whatever is still buffered. ctx
// bounds the final write.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return ErrNotStarted
	}
	r.logger.Info("stopping recorder")
	r.cancel()
	r.buf.close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return ctx.Err()
	}

	for r.buf.len() > 0 {
		if err := r.flush(ctx); err != nil {
			return err
		}
	}
	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.statsMu.Lock()
	s := r.stats
	r.statsMu.Unlock()
	s.Pending = r.buf.len()
	return s
}

func (r *Recorder) enqueue(rw row) {
	if !r.buf.push(rw) {
		r.statsMu.Lock()
		r.stats.Dropped++
		r.statsMu.Unlock()
		return
	}
	if r.buf.len() >= r.cfg.BatchSize {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flushAll(r.ctx)
		case <-r.kick:
			r.flushAll(r.ctx)
		}
	}
}

// flushAll writes full batches until the buffer is empty or a write fails.
func (r *Recorder) flushAll(ctx context.Context) {
	for r.buf.len() > 0 {
		if err := r.flush(ctx); err != nil {
			return
		}
	}
}

// flush writes one batch. Rows from a failed batch are counted and dropped.
func (r *Recorder) flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	rows := r.buf.drain(r.cfg.BatchSize)
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	conflicts, err := r.batchInsert(ctx, rows)

	r.statsMu.Lock()
	if err != nil {
		r.stats.Errors++
	} else {
		r.stats.Inserts += int64(len(rows) - conflicts)
		r.stats.Conflicts += int64(conflicts)
		r.stats.Flushes++
	}
	r.statsMu.Unlock()

	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(rows))
		return err
	}
	r.logger.Debug("flushed rows",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

func (r *Recorder) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, rw := range rows {
		if rw.Kind == KindMessage {
			batch.Queue(insertMessageSQL, rw.ID, rw.SessionID, rw.At, rw.Detail)
			continue
		}
		batch.Queue(insertEventSQL, rw.ID, rw.SessionID, rw.At, string(rw.Kind), rw.Detail)
	}

	results := r.db.SendBatch(ctx, batch)
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

func (r *Recorder) messageRow(session uuid.UUID, e connection.MessageEvent) row {
	return row{
		ID:        uuid.New(),
		SessionID: session,
		At:        r.now().UTC(),
		Kind:      KindMessage,
		Detail:    e.Text,
	}
}

func (r *Recorder) eventRow(session uuid.UUID, kind Kind, detail string) row {
	return row{
		ID:        uuid.New(),
		SessionID: session,
		At:        r.now().UTC(),
		Kind:      kind,
		Detail:    detail,
	}
}

func disconnectDetail(e connection.DisconnectedEvent) string {
	code := strconv.Itoa(int(e.Code))
	if e.Reason == "" {
		return code
	}
	return code + " " + e.Reason
}

func errorDetail(e connection.ErrorEvent) string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
