package outcome

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/pricesync/internal/catalog"
	"github.com/JonMunkholm/pricesync/internal/index"
	"github.com/JonMunkholm/pricesync/internal/reconcile"
	"github.com/JonMunkholm/pricesync/internal/upc"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }

func adjusted() reconcile.Outcome {
	price := int64(1000)
	return reconcile.Outcome{
		Kind:        reconcile.Adjusted,
		ListingID:   "v1",
		SKU:         "ABC-1",
		DisplayName: "Widget",
		MatchedBy:   reconcile.MatchSKU,
		LocalSKU:    "abc-1",
		RemotePrice: 500,
		LocalPrice:  1000,
		Command:     &catalog.UpdateCommand{ListingID: "v1", Price: &price},
		Dispatched:  true,
	}
}

func duplicate(t *testing.T) index.Duplicate {
	u, err := upc.ParseStrict("036000291452")
	require.NoError(t, err)
	return index.Duplicate{UPC: u, SKUs: []string{"A", "B"}}
}

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	sink.now = fixedNow

	failed := adjusted()
	failed.SKU = "ABC-9"
	failed.Dispatched = false
	failed.UpdateErr = errors.New("throttled")

	sink.Record(adjusted())
	sink.Record(failed)
	sink.Record(reconcile.Outcome{Kind: reconcile.NotFound, SKU: "X", DisplayName: "Thing"})
	sink.RecordDuplicate(duplicate(t))
	require.NoError(t, sink.Close())

	read := func(name string) string {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return string(b)
	}

	lines := strings.Split(strings.TrimSpace(read("adjusted.txt")), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2024-03-01 09:30:00 ADJUSTING Item ABC-1"))

	assert.Contains(t, read(FileErrors), "ABC-9")
	assert.NotContains(t, read(FileErrors), "ABC-1 ")
	assert.Equal(t, "2024-03-01 09:30:00 NOT FOUND Item X (Thing)\n", read("not_found.txt"))
	assert.Contains(t, read(FileDuplicates), "DUPLICATE UPC 036000291452 shared by local SKUs A, B")
	assert.Empty(t, read("malformed.txt"))
	assert.Empty(t, read("not_adjusted_equal.txt"))
}

func TestFileName(t *testing.T) {
	for _, k := range reconcile.Kinds {
		assert.NotEmpty(t, FileName(k), k.String())
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	sink.now = fixedNow

	sink.Record(adjusted())
	sink.RecordDuplicate(duplicate(t))

	out := buf.String()
	assert.Contains(t, out, "2024-03-01 09:30:00 ADJUSTING Item ABC-1 (Widget)")
	assert.Contains(t, out, "DUPLICATE UPC 036000291452")
}

func TestLogSinkAndTee(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var stream bytes.Buffer
	tee := Tee{NewLogSink(logger), NewWriterSink(&stream)}

	tee.Record(reconcile.Outcome{Kind: reconcile.MalformedListing, ListingID: "v9", Err: catalog.ErrMissingSKU})
	tee.RecordDuplicate(duplicate(t))

	logged := buf.String()
	assert.Contains(t, logged, "level=WARN")
	assert.Contains(t, logged, "kind=malformed")
	assert.Contains(t, logged, "duplicate upc in item data")
	assert.Contains(t, stream.String(), "MALFORMED listing v9")
	assert.Contains(t, stream.String(), "DUPLICATE UPC")
}

type fakeCopier struct {
	mu    sync.Mutex
	rows  [][]any
	calls int
	err   error
	// hold, when set, stalls every copy until it is closed.
	hold  chan struct{}
}

func (f *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if f.hold != nil {
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}

	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		if len(vals) != len(columns) || table[0] != AuditTable {
			return n, errors.New("column mismatch")
		}
		f.rows = append(f.rows, append([]any(nil), vals...))
		n++
	}
	return n, nil
}

func TestAuditSink(t *testing.T) {
	db := &fakeCopier{}
	runID := uuid.New()
	sink := NewAuditSink(db, runID, AuditOptions{BatchSize: 2, FlushInterval: time.Hour})

	sink.Record(adjusted())
	sink.Record(reconcile.Outcome{Kind: reconcile.NotFound, ListingID: "v2", SKU: "X"})
	sink.Record(reconcile.Outcome{Kind: reconcile.MalformedListing, ListingID: "v3", Err: catalog.ErrMissingSKU})
	require.NoError(t, sink.Close())

	assert.Equal(t, int64(3), sink.Copied())
	require.Len(t, db.rows, 3)
	assert.Equal(t, 2, db.calls, "one full batch plus the remainder on close")

	first := db.rows[0]
	assert.Equal(t, "adjusted", first[1])
	assert.Equal(t, "v1", first[2])
	assert.Equal(t, true, first[11])
}

func TestAuditSink_CopyErrorSurfacesOnClose(t *testing.T) {
	db := &fakeCopier{err: errors.New("relation does not exist")}
	sink := NewAuditSink(db, uuid.New(), AuditOptions{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	sink.Record(adjusted())
	err := sink.Close()
	assert.ErrorContains(t, err, "relation does not exist")
	assert.Zero(t, sink.Copied())
}

func TestAuditSink_SlowDatabaseDoesNotBlockRecord(t *testing.T) {
	db := &fakeCopier{hold: make(chan struct{})}
	sink := NewAuditSink(db, uuid.New(), AuditOptions{
		BatchSize:     1,
		FlushInterval: time.Hour,
		Logger:        slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	recorded := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.Record(adjusted())
		}
		close(recorded)
	}()

	select {
	case <-recorded:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on a stalled database")
	}

	// One row can be in the stalled copy and two in the buffer.
	assert.GreaterOrEqual(t, sink.Dropped(), int64(7))

	close(db.hold)
	err := sink.Close()
	assert.ErrorIs(t, err, ErrAuditDropped)
	assert.Equal(t, int64(10), sink.Copied()+sink.Dropped())
}
