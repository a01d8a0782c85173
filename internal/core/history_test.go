package core

import (
	"strconv"
	"testing"

	"github.com/JonMunkholm/pricesync/internal/reconcile"
)

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(2)
	for i := 1; i <= 3; i++ {
		h.Add(&RunRecord{ID: strconv.Itoa(i)})
	}

	if _, ok := h.Get("1"); ok {
		t.Error("run 1 should have been evicted")
	}

	runs := h.List()
	if len(runs) != 2 || runs[0].ID != "3" || runs[1].ID != "2" {
		t.Errorf("List() = %v, want [3 2]", ids(runs))
	}
}

func TestHistory_UpdateKeepsPosition(t *testing.T) {
	h := NewHistory(5)
	h.Add(&RunRecord{ID: "a", Status: StatusRunning})
	h.Add(&RunRecord{ID: "b", Status: StatusRunning})
	h.Add(&RunRecord{ID: "a", Status: StatusSucceeded})

	runs := h.List()
	if len(runs) != 2 || runs[0].ID != "b" {
		t.Errorf("List() = %v, want [b a]", ids(runs))
	}
	if got, _ := h.Get("a"); got.Status != StatusSucceeded {
		t.Errorf("Status = %q, want succeeded", got.Status)
	}
}

func TestHistory_ReturnsCopies(t *testing.T) {
	h := NewHistory(5)
	h.Add(&RunRecord{ID: "a", Summary: &reconcile.Summary{Counts: map[reconcile.Kind]int{reconcile.Equal: 1}}})

	got, _ := h.Get("a")
	got.Summary.Counts[reconcile.Equal] = 99
	got.Status = StatusFailed

	again, _ := h.Get("a")
	if again.Summary.Counts[reconcile.Equal] != 1 || again.Status != "" {
		t.Errorf("stored record was mutated through a copy: %+v", again)
	}
}

func ids(runs []*RunRecord) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
