package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pricesync/internal/catalog"
	"github.com/JonMunkholm/pricesync/internal/index"
	"github.com/JonMunkholm/pricesync/internal/logging"
	"github.com/JonMunkholm/pricesync/internal/outcome"
	"github.com/JonMunkholm/pricesync/internal/reconcile"
	"github.com/JonMunkholm/pricesync/internal/report"
)

// DefaultRunTimeout bounds a run when Options.Timeout is unset.
const DefaultRunTimeout = 30 * time.Minute

// OutputOptions choose where outcome lines go.
type OutputOptions struct {
	// WriteLogs writes per-kind files under LogDir; otherwise lines go to
	// Stdout.
	WriteLogs bool
	LogDir    string
	// PerRunDir puts each run's files in LogDir/<run id>.
	PerRunDir bool
	Stdout    io.Writer
}

// AuditOptions enable the Postgres outcome table when DB is set.
type AuditOptions struct {
	DB        outcome.Copier
	BatchSize int
}

// Options configure a Service. They are fixed for its lifetime.
type Options struct {
	Reports   report.LoadOptions
	Reconcile reconcile.Options
	Output    OutputOptions
	Audit     AuditOptions
	Timeout   time.Duration

	MaxConcurrent int
	MaxWaitTime   time.Duration
	HistorySize   int
}

// RunRequest asks for one run. DryRun can only make a run drier: a service
// configured for dry runs never sends updates.
type RunRequest struct {
	Trigger Trigger
	DryRun  bool
}

// Service loads the exports, reconciles them against the remote catalog and
// keeps a history of runs.
type Service struct {
	source  catalog.Source
	updater catalog.Updater
	opts    Options

	limiter *RunLimiter
	history *History

	wg sync.WaitGroup
}

// NewService wires a service to one remote catalog.
func NewService(source catalog.Source, updater catalog.Updater, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRunTimeout
	}
	if opts.Output.Stdout == nil {
		opts.Output.Stdout = os.Stdout
	}

	return &Service{
		source:  source,
		updater: updater,
		opts:    opts,
		limiter: NewRunLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		history: NewHistory(opts.HistorySize),
	}
}

// Run executes one reconciliation and waits for it. Only a report loading
// failure or a busy limiter is returned as an error; per-listing problems
// are outcomes, and an early end of paging is recorded as a partial run.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunRecord, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	rec := s.newRecord(req)
	err := s.execute(ctx, rec)
	return rec, err
}

// Start begins a run in the background and returns its record as soon as a
// slot is held. The run outlives ctx; Shutdown waits for it.
func (s *Service) Start(ctx context.Context, req RunRequest) (*RunRecord, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	rec := s.newRecord(req)
	started := copyRecord(rec)

	runCtx := logging.WithRunID(context.WithoutCancel(ctx), rec.ID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		if err := s.execute(runCtx, rec); err != nil {
			logging.FromContext(runCtx).Error("run failed", "error", err)
		}
	}()

	return started, nil
}

// Shutdown waits for background runs to finish or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runs lists recent runs, newest first.
func (s *Service) Runs() []*RunRecord {
	return s.history.List()
}

// GetRun returns one run by id.
func (s *Service) GetRun(id string) (*RunRecord, bool) {
	return s.history.Get(id)
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

func (s *Service) newRecord(req RunRequest) *RunRecord {
	if req.Trigger == "" {
		req.Trigger = TriggerCLI
	}
	rec := &RunRecord{
		ID:        uuid.New().String(),
		Trigger:   req.Trigger,
		Status:    StatusRunning,
		DryRun:    s.opts.Reconcile.DryRun || req.DryRun,
		StartedAt: time.Now(),
	}
	s.history.Add(rec)
	return rec
}

func (s *Service) execute(ctx context.Context, rec *RunRecord) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	ctx = logging.WithRunID(ctx, rec.ID)
	logger := logging.FromContext(ctx)

	defer func() {
		now := time.Now()
		rec.FinishedAt = &now
		if err != nil {
			rec.Status = StatusFailed
			rec.Error = err.Error()
		}
		s.history.Add(rec)
	}()

	logger.Info("run started", "trigger", rec.Trigger, "dry_run", rec.DryRun)

	snap, err := report.Load(ctx, s.opts.Reports)
	if err != nil {
		return fmt.Errorf("load reports: %w", err)
	}
	products := snap.Products
	rec.Products = len(products)

	idx, dups := index.Build(products)
	logger.Info("reports loaded", "products", len(products), "upcs", idx.Len(), "duplicate_upcs", len(dups))
	if snap.Changed != nil {
		rec.Changed = len(snap.Changed)
		logger.Info("changed-rows mode", "changed", len(snap.Changed))
	}

	sink, closeSink, err := s.openSinks(ctx, rec)
	if err != nil {
		return err
	}

	opts := s.opts.Reconcile
	opts.DryRun = rec.DryRun
	opts.Changed = snap.Changed
	summary := reconcile.New(products, idx, opts).Run(ctx, s.source, s.updater, sink)

	if err := closeSink(); err != nil {
		logger.Error("closing outcome sinks", "error", err)
	}

	rec.Summary = &summary
	rec.Status = StatusSucceeded
	if summary.FetchErr != nil {
		rec.Status = StatusPartial
		rec.FetchError = summary.FetchErr.Error()
		logger.Warn("listing fetch stopped early", "error", summary.FetchErr)
	}

	logger.Info("run completed",
		"status", rec.Status,
		"listings", summary.Listings,
		"skipped", summary.Skipped,
		"adjusted", summary.Counts[reconcile.Adjusted],
		"equal", summary.Counts[reconcile.Equal],
		"greater", summary.Counts[reconcile.Greater],
		"not_found", summary.Counts[reconcile.NotFound],
		"duplicate_upc", summary.Counts[reconcile.DuplicateUpc],
		"malformed", summary.Counts[reconcile.MalformedListing],
		"updates", summary.Updates,
		"update_failures", summary.UpdateFailures,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return nil
}

// openSinks builds the outcome sinks for one run and a func that closes them.
func (s *Service) openSinks(ctx context.Context, rec *RunRecord) (reconcile.Sink, func() error, error) {
	var closers []func() error
	tee := outcome.Tee{outcome.NewLogSink(logging.FromContext(ctx))}

	out := s.opts.Output
	if out.WriteLogs {
		dir := out.LogDir
		if out.PerRunDir {
			dir = filepath.Join(dir, rec.StartedAt.Format("20060102-150405")+"-"+rec.ID[:8])
		}
		files, err := outcome.NewFileSink(dir)
		if err != nil {
			return nil, nil, err
		}
		rec.LogDir = dir
		tee = append(tee, files)
		closers = append(closers, files.Close)
	} else {
		tee = append(tee, outcome.NewWriterSink(out.Stdout))
	}

	if s.opts.Audit.DB != nil {
		runID, err := uuid.Parse(rec.ID)
		if err != nil {
			return nil, nil, err
		}
		audit := outcome.NewAuditSink(s.opts.Audit.DB, runID, outcome.AuditOptions{
			BatchSize: s.opts.Audit.BatchSize,
			Logger:    logging.FromContext(ctx),
		})
		tee = append(tee, audit)
		closers = append(closers, audit.Close)
	}

	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return tee, closeAll, nil
}
