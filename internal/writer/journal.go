package writer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/schedule-sync/internal/queue"
	"github.com/rickgao/schedule-sync/internal/session"
)

// EditJournal consumes relayed edits and writes them to the edit_journal
// table. It implements session.EditSink.
type EditJournal struct {
	cfg    JournalConfig
	logger *slog.Logger

	// Input from the session goroutines
	input *queue.Buffer[session.Edit]

	// Database
	db DB

	// Batching
	batch       []editRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{}

	// Metrics
	metrics JournalMetrics
}

var _ session.EditSink = (*EditJournal)(nil)

// NewEditJournal creates a new EditJournal.
func NewEditJournal(cfg JournalConfig, db DB, logger *slog.Logger) *EditJournal {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultJournalConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &EditJournal{
		cfg:    cfg,
		input:  queue.New[session.Edit](cfg.BufferSize),
		db:     db,
		logger: logger,
		batch:  make([]editRow, 0, cfg.BatchSize),
	}
}

// HandleEdit queues e for the next flush. It never blocks.
func (w *EditJournal) HandleEdit(e session.Edit) {
	ok := w.input.Push(e)

	w.batchMu.Lock()
	if ok {
		w.metrics.Received++
	} else {
		w.metrics.Dropped++
	}
	w.batchMu.Unlock()
}

// Start begins consuming edits and writing to the database.
func (w *EditJournal) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.consumed = make(chan struct{})
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("edit journal started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued edits, writes the final batch and shuts down.
func (w *EditJournal) Stop(ctx context.Context) error {
	w.logger.Info("stopping edit journal")

	// Closing the input lets consumeLoop drain what is queued and exit.
	w.input.Close()

	if w.consumed != nil {
		select {
		case <-w.consumed:
		case <-ctx.Done():
			w.logger.Warn("edit journal stop timed out", "pending", w.input.Len())
		}
	}

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()

	// Final flush
	w.flushWith(ctx)

	w.logger.Info("edit journal stopped")
	return nil
}

// Stats returns current metrics.
func (w *EditJournal) Stats() JournalMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches. It exits
// once the queue is closed and empty.
func (w *EditJournal) consumeLoop() {
	defer close(w.consumed)

	for {
		e, ok := w.input.Pop()
		if !ok {
			return
		}
		w.handleEdit(e)
	}
}

// flushLoop periodically flushes the batch.
func (w *EditJournal) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// handleEdit transforms and adds an edit to the batch.
func (w *EditJournal) handleEdit(e session.Edit) {
	row, err := w.transform(e)
	if err != nil {
		w.logger.Warn("dropping unencodable edit", "edit_id", e.ID, "error", err)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transform converts an Edit to an editRow.
func (w *EditJournal) transform(e session.Edit) (editRow, error) {
	changes := e.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return editRow{}, err
	}

	var clientTs int64
	if !e.ClientTime.IsZero() {
		clientTs = e.ClientTime.UnixMilli()
	}

	return editRow{
		EditID:     e.ID,
		SessionID:  e.SessionID,
		ItemID:     e.ItemID,
		UserID:     e.UserID,
		UserName:   e.UserName,
		Changes:    data,
		ClientTs:   clientTs,
		ReceivedAt: e.ReceivedAt.UnixMilli(),
	}, nil
}

func (w *EditJournal) flush() {
	w.flushWith(w.ctx)
}

// flushWith writes the current batch to the database.
func (w *EditJournal) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]editRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed edits",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *EditJournal) batchInsert(ctx context.Context, rows []editRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEdit,
			r.EditID, r.SessionID, r.ItemID, r.UserID, r.UserName, r.Changes, r.ClientTs, r.ReceivedAt)
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
