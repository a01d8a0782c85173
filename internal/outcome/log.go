package outcome

import (
	"log/slog"

	"github.com/JonMunkholm/pricesync/internal/index"
	"github.com/JonMunkholm/pricesync/internal/reconcile"
)

// LogSink reports outcomes through slog. Price and stock decisions are
// logged at debug; anything an operator has to look at is a warning.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(o reconcile.Outcome) {
	attrs := []any{
		"kind", o.Kind.String(),
		"listing_id", o.ListingID,
		"sku", o.SKU,
	}
	if o.MatchedBy != "" {
		attrs = append(attrs, "matched_by", o.MatchedBy, "local_sku", o.LocalSKU)
	}

	switch {
	case o.UpdateErr != nil:
		s.logger.Error("listing update failed", append(attrs, "error", o.UpdateErr)...)
	case o.Kind == reconcile.NotFound, o.Kind == reconcile.DuplicateUpc, o.Kind == reconcile.MalformedListing:
		s.logger.Warn(o.Message(), attrs...)
	default:
		s.logger.Debug(o.Message(), attrs...)
	}
}

func (s *LogSink) RecordDuplicate(d index.Duplicate) {
	s.logger.Warn("duplicate upc in item data", "upc", d.UPC.String(), "skus", d.SKUs)
}

// Tee fans outcomes out to several sinks in order.
type Tee []reconcile.Sink

func (t Tee) Record(o reconcile.Outcome) {
	for _, s := range t {
		s.Record(o)
	}
}

// RecordDuplicate forwards to every sink that accepts duplicates.
func (t Tee) RecordDuplicate(d index.Duplicate) {
	for _, s := range t {
		if r, ok := s.(reconcile.DuplicateRecorder); ok {
			r.RecordDuplicate(d)
		}
	}
}
