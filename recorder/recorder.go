package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamkit/mexc-stream/config"
	"github.com/streamkit/mexc-stream/events"
	"github.com/streamkit/mexc-stream/stream"
)

// DealRecord is one trade ready for persistence.
type DealRecord struct {
	Symbol     string
	Price      string
	Quantity   string
	IsBuy      bool
	TradeTime  time.Time
	ReceivedAt time.Time
}

// Metrics counts recorder activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// Recorder consumes deal events from a stream subscription and writes
// them to the deals table in batches.
type Recorder struct {
	cfg    config.RecorderConfig
	logger *slog.Logger
	runID  string

	input *Buffer[DealRecord]
	db    *pgxpool.Pool

	batch   []DealRecord
	batchMu sync.Mutex

	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a recorder writing to db.
func New(cfg config.RecorderConfig, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.New().String()
	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger.With("run_id", runID[:8]),
		runID:  runID,
		input:  NewBuffer[DealRecord](cfg.BufferSize),
		batch:  make([]DealRecord, 0, cfg.BatchSize),
	}
}

// HandleEvent is a stream.Callback that feeds deal events into the
// recorder. Malformed payloads are counted and dropped.
func (r *Recorder) HandleEvent(ev stream.Event) {
	deals, err := events.ParseDeals(ev.Payload)
	if err != nil {
		r.logger.Warn("unparseable deals payload", "topic", ev.Topic, "error", err)
		r.batchMu.Lock()
		r.metrics.Dropped++
		r.batchMu.Unlock()
		return
	}

	for _, d := range deals.Deals {
		r.input.Push(DealRecord{
			Symbol:     ev.Symbol,
			Price:      d.Price,
			Quantity:   d.Quantity,
			IsBuy:      d.IsBuy(),
			TradeTime:  d.Timestamp(),
			ReceivedAt: ev.ReceivedAt,
		})
	}
}

// Start begins consuming records and writing batches.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the buffer and flushes the remaining batch.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.input.Close()
	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Drain whatever is still buffered, then flush.
	for {
		rec, ok := r.input.TryPop()
		if !ok {
			break
		}
		r.append(rec)
	}
	r.flush()

	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			rec, ok := r.input.TryPop()
			if !ok {
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			r.append(rec)
		}
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

func (r *Recorder) append(rec DealRecord) {
	r.batchMu.Lock()
	r.batch = append(r.batch, rec)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	batch := r.batch
	r.batch = make([]DealRecord, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.insertBatch(batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed deals",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

const insertDealSQL = `
	INSERT INTO deals (symbol, price, quantity, is_buy, trade_time, received_at, run_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (symbol, trade_time, price, quantity) DO NOTHING`

// insertBatch writes rows in one round trip and returns the number of
// conflict rows skipped.
func (r *Recorder) insertBatch(records []DealRecord) (int, error) {
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertDealSQL,
			rec.Symbol,
			rec.Price,
			rec.Quantity,
			rec.IsBuy,
			rec.TradeTime,
			rec.ReceivedAt,
			r.runID,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for range records {
		tag, err := results.Exec()
		if err != nil {
			return conflicts, err
		}
		if tag.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
