package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// JournalConfig contains configuration for the edit journal.
type JournalConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the input queue.
	BufferSize int
}

// DefaultJournalConfig returns sensible defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
		BufferSize:    10000,
	}
}

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// editRow represents a row for the edit_journal table.
type editRow struct {
	EditID     string
	SessionID  string
	ItemID     string
	UserID     string
	UserName   string
	Changes    []byte // JSONB
	ClientTs   int64  // Milliseconds; 0 when the client sent no timestamp
	ReceivedAt int64  // Milliseconds
}

// JournalMetrics holds counters for the journal.
type JournalMetrics struct {
	Received  int64
	Dropped   int64
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
