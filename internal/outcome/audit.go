package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/pricesync/internal/reconcile"
)

// AuditTable receives one row per outcome.
const AuditTable = "reconcile_outcomes"

const auditSchema = `CREATE TABLE IF NOT EXISTS reconcile_outcomes (
	id                  BIGSERIAL PRIMARY KEY,
	run_id              UUID        NOT NULL,
	kind                TEXT        NOT NULL,
	listing_id          TEXT        NOT NULL,
	sku                 TEXT,
	local_sku           TEXT,
	matched_by          TEXT,
	barcode             TEXT,
	remote_price_cents  BIGINT,
	local_price_cents   BIGINT,
	new_price_cents     BIGINT,
	new_stock           INTEGER,
	dispatched          BOOLEAN     NOT NULL DEFAULT FALSE,
	error               TEXT,
	message             TEXT        NOT NULL,
	recorded_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reconcile_outcomes_run_id_idx ON reconcile_outcomes (run_id);`

var auditColumns = []string{
	"run_id", "kind", "listing_id", "sku", "local_sku", "matched_by", "barcode",
	"remote_price_cents", "local_price_cents", "new_price_cents", "new_stock",
	"dispatched", "error", "message", "recorded_at",
}

// Execer runs DDL. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Copier bulk-loads rows. *pgxpool.Pool satisfies it.
type Copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// EnsureAuditSchema creates the audit table if it does not exist.
func EnsureAuditSchema(ctx context.Context, db Execer) error {
	_, err := db.Exec(ctx, auditSchema)
	return err
}

// AuditOptions tune batching.
type AuditOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// ErrAuditDropped is reported by Close when outcomes were dropped because
// the database fell behind.
var ErrAuditDropped = errors.New("audit rows dropped")

// AuditSink buffers outcomes and copies them into AuditTable in batches.
// Record never waits on the database: a background goroutine flushes when
// the batch fills or the interval passes, and an outcome arriving while the
// buffer (twice the batch size) is full is dropped and counted. Close
// flushes what is left.
type AuditSink struct {
	db      Copier
	runID   uuid.UUID
	opts    AuditOptions
	now     func() time.Time
	in      chan []any
	done    chan struct{}
	mu      sync.Mutex
	err     error
	copied  int64
	dropped int64
}

// NewAuditSink starts the flusher for one run.
func NewAuditSink(db Copier, runID uuid.UUID, opts AuditOptions) *AuditSink {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &AuditSink{
		db:    db,
		runID: runID,
		opts:  opts,
		now:   time.Now,
		in:    make(chan []any, opts.BatchSize*2),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

// Record implements reconcile.Sink.
func (s *AuditSink) Record(o reconcile.Outcome) {
	select {
	case s.in <- s.row(o):
	default:
		s.mu.Lock()
		s.dropped++
		first := s.dropped == 1
		s.mu.Unlock()
		if first {
			s.opts.Logger.Warn("audit buffer full, dropping outcome rows", "run_id", s.runID)
		}
	}
}

func (s *AuditSink) row(o reconcile.Outcome) []any {
	var newPrice pgtype.Int8
	var newStock pgtype.Int4
	if o.Command != nil {
		if o.Command.Price != nil {
			newPrice = pgtype.Int8{Int64: *o.Command.Price, Valid: true}
		}
		if o.Command.Stock != nil {
			newStock = pgtype.Int4{Int32: int32(*o.Command.Stock), Valid: true}
		}
	}

	var errText pgtype.Text
	switch {
	case o.UpdateErr != nil:
		errText = toPgText(o.UpdateErr.Error())
	case o.Err != nil:
		errText = toPgText(o.Err.Error())
	}

	matched := o.MatchedBy != ""
	return []any{
		pgtype.UUID{Bytes: s.runID, Valid: true},
		o.Kind.String(),
		o.ListingID,
		toPgText(o.SKU),
		toPgText(o.LocalSKU),
		toPgText(o.MatchedBy),
		toPgText(o.Barcode),
		pgtype.Int8{Int64: o.RemotePrice, Valid: o.Kind != reconcile.MalformedListing},
		pgtype.Int8{Int64: o.LocalPrice, Valid: matched},
		newPrice,
		newStock,
		o.Dispatched,
		errText,
		o.Message(),
		s.now(),
	}
}

func (s *AuditSink) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([][]any, 0, s.opts.BatchSize)
	for {
		select {
		case row, ok := <-s.in:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, row)
			if len(batch) >= s.opts.BatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *AuditSink) flush(batch [][]any) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.db.CopyFrom(ctx, pgx.Identifier{AuditTable}, auditColumns, pgx.CopyFromRows(batch))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.copied += n
	if err != nil {
		s.err = errors.Join(s.err, err)
		s.opts.Logger.Error("audit flush failed", "run_id", s.runID, "rows", len(batch), "error", err)
	}
}

// Close stops accepting outcomes, flushes the rest and reports any copy
// failure seen during the run. It must be called once, after the run.
func (s *AuditSink) Close() error {
	close(s.in)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped > 0 {
		return errors.Join(s.err, fmt.Errorf("%w: %d", ErrAuditDropped, s.dropped))
	}
	return s.err
}

// Dropped is the number of outcomes that never reached the buffer.
func (s *AuditSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Copied is the number of rows written so far.
func (s *AuditSink) Copied() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copied
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
