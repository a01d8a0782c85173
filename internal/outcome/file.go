// Package outcome holds the sinks that reconciliation results are written to:
// per-kind log files, a plain stream, slog, and a Postgres audit table.
package outcome

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/pricesync/internal/index"
	"github.com/JonMunkholm/pricesync/internal/reconcile"
)

// TimeFormat prefixes every written line.
const TimeFormat = "2006-01-02 15:04:05"

// File names, one per outcome kind plus the duplicate report and errors.
const (
	FileDuplicates = "duplicate_upcs.txt"
	FileErrors     = "error.txt"
)

var kindFiles = map[reconcile.Kind]string{
	reconcile.Adjusted:         "adjusted.txt",
	reconcile.Equal:            "not_adjusted_equal.txt",
	reconcile.Greater:          "not_adjusted_greater.txt",
	reconcile.NotFound:         "not_found.txt",
	reconcile.DuplicateUpc:     FileDuplicates,
	reconcile.MalformedListing: "malformed.txt",
}

// FileName returns the log file an outcome kind is written to.
func FileName(k reconcile.Kind) string {
	return kindFiles[k]
}

// FileSink writes each outcome to the file for its kind under one
// directory. Files are truncated when the sink is opened.
type FileSink struct {
	mu      sync.Mutex
	files   map[string]*os.File
	writers map[string]*bufio.Writer
	now     func() time.Time
}

// NewFileSink creates dir if needed and opens every log file in it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	s := &FileSink{
		files:   make(map[string]*os.File),
		writers: make(map[string]*bufio.Writer),
		now:     time.Now,
	}

	names := []string{FileErrors}
	for _, name := range kindFiles {
		names = append(names, name)
	}
	for _, name := range names {
		if _, ok := s.files[name]; ok {
			continue
		}
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		s.files[name] = f
		s.writers[name] = bufio.NewWriter(f)
	}

	return s, nil
}

func (s *FileSink) writeLine(name, msg string) {
	w, ok := s.writers[name]
	if !ok {
		return
	}
	fmt.Fprintf(w, "%s %s\n", s.now().Format(TimeFormat), msg)
}

// Record implements reconcile.Sink.
func (s *FileSink) Record(o reconcile.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLine(FileName(o.Kind), o.Message())
	if o.UpdateErr != nil {
		s.writeLine(FileErrors, o.Message())
	}
}

// RecordDuplicate implements reconcile.DuplicateRecorder.
func (s *FileSink) RecordDuplicate(d index.Duplicate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLine(FileDuplicates, DuplicateMessage(d))
}

// Close flushes and closes every file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, f := range s.files {
		if w := s.writers[name]; w != nil {
			if err := w.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("flush %s: %w", name, err))
			}
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files, s.writers = nil, nil
	return errors.Join(errs...)
}

// DuplicateMessage renders the duplicate report line for one UPC.
func DuplicateMessage(d index.Duplicate) string {
	return fmt.Sprintf("DUPLICATE UPC %s shared by local SKUs %s", d.UPC, strings.Join(d.SKUs, ", "))
}

// WriterSink writes every outcome to one stream, as the tool does when file
// logging is turned off.
type WriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, now: time.Now}
}

func (s *WriterSink) Record(o reconcile.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s %s\n", s.now().Format(TimeFormat), o.Message())
}

func (s *WriterSink) RecordDuplicate(d index.Duplicate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s %s\n", s.now().Format(TimeFormat), DuplicateMessage(d))
}
