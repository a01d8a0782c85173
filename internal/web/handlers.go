package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/pricesync/internal/core"
)

// startRunRequest is the optional body of POST /api/runs.
type startRunRequest struct {
	DryRun bool `json:"dryRun"`
}

type healthResponse struct {
	Status string                `json:"status"`
	Runs   core.RunLimiterStatus `json:"runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status: "ok",
		Runs:   s.service.LimiterStatus(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := runsPage(s.service.Runs(), s.service.LimiterStatus())
	if err := page.Render(r.Context(), w); err != nil {
		requestLogger(r).Error("render runs page", "error", err)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Runs())
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			respondError(w, r, errors.Join(errBadRequest, err), http.StatusBadRequest)
			return
		}
	}

	rec, err := s.service.Start(r.Context(), core.RunRequest{
		Trigger: core.TriggerAPI,
		DryRun:  req.DryRun,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrTooManyRuns) {
			status = http.StatusConflict
		}
		respondError(w, r, err, status)
		return
	}

	requestLogger(r).Info("run started", "run_id", rec.ID, "dry_run", rec.DryRun)
	w.Header().Set("Location", "/api/runs/"+rec.ID)
	writeJSON(w, r, http.StatusAccepted, rec)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.service.GetRun(chi.URLParam(r, "runID"))
	if !ok {
		respondError(w, r, errRunNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}
