package core

import (
	"sync"
	"time"

	"github.com/JonMunkholm/pricesync/internal/reconcile"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	// StatusPartial means paging stopped early; what arrived was reconciled.
	StatusPartial RunStatus = "partial"
	StatusFailed  RunStatus = "failed"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerCLI      Trigger = "cli"
	TriggerAPI      Trigger = "api"
	TriggerSchedule Trigger = "schedule"
)

// RunRecord describes one reconciliation run.
type RunRecord struct {
	ID         string             `json:"id"`
	Trigger    Trigger            `json:"trigger"`
	Status     RunStatus          `json:"status"`
	DryRun     bool               `json:"dryRun"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
	Products   int                `json:"products"`
	// Changed counts products that moved since the previous export, when
	// one was given.
	Changed    int                `json:"changed,omitempty"`
	Summary    *reconcile.Summary `json:"summary,omitempty"`
	LogDir     string             `json:"logDir,omitempty"`
	Error      string             `json:"error,omitempty"`
	FetchError string             `json:"fetchError,omitempty"`
}

// History keeps the most recent runs in memory for the life of the process.
type History struct {
	mu    sync.RWMutex
	size  int
	order []string
	runs  map[string]*RunRecord
}

// NewHistory keeps at most size runs.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 50
	}
	return &History{size: size, runs: make(map[string]*RunRecord)}
}

// Add stores rec, evicting the oldest run when full.
func (h *History) Add(rec *RunRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.runs[rec.ID]; !ok {
		h.order = append(h.order, rec.ID)
	}
	h.runs[rec.ID] = copyRecord(rec)

	for len(h.order) > h.size {
		delete(h.runs, h.order[0])
		h.order = h.order[1:]
	}
}

// Get returns a copy of the run with id.
func (h *History) Get(id string) (*RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.runs[id]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// List returns copies of every kept run, newest first.
func (h *History) List() []*RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*RunRecord, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		out = append(out, copyRecord(h.runs[h.order[i]]))
	}
	return out
}

func copyRecord(rec *RunRecord) *RunRecord {
	cp := *rec
	if rec.Summary != nil {
		sum := *rec.Summary
		sum.Counts = make(map[reconcile.Kind]int, len(rec.Summary.Counts))
		for k, v := range rec.Summary.Counts {
			sum.Counts[k] = v
		}
		cp.Summary = &sum
	}
	if rec.FinishedAt != nil {
		t := *rec.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
