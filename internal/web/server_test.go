package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/pricesync/internal/config"
	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/reconcile"
)

type fakeService struct {
	mu      sync.Mutex
	runs    []*core.RunRecord
	busy    bool
	started []core.RunRequest
}

func (f *fakeService) Start(_ context.Context, req core.RunRequest) (*core.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, core.ErrTooManyRuns
	}
	f.started = append(f.started, req)
	rec := &core.RunRecord{
		ID:        "run-" + string(rune('a'+len(f.runs))),
		Trigger:   req.Trigger,
		Status:    core.StatusRunning,
		DryRun:    req.DryRun,
		StartedAt: time.Now(),
	}
	f.runs = append([]*core.RunRecord{rec}, f.runs...)
	return rec, nil
}

func (f *fakeService) Runs() []*core.RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*core.RunRecord(nil), f.runs...)
}

func (f *fakeService) GetRun(id string) (*core.RunRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

func (f *fakeService) LimiterStatus() core.RunLimiterStatus {
	return core.RunLimiterStatus{MaxConcurrent: 1, Available: 1}
}

func newTestServer(svc RunService, security config.SecurityConfig) http.Handler {
	return NewServer(svc, config.ServerConfig{Port: 8080}, security).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeService{}, config.SecurityConfig{})

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Runs.MaxConcurrent)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestStartRun(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, config.SecurityConfig{})

	rec := do(t, h, http.MethodPost, "/api/runs", `{"dryRun":true}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var run core.RunRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&run))
	assert.True(t, run.DryRun)
	assert.Equal(t, core.TriggerAPI, run.Trigger)
	assert.Equal(t, "/api/runs/"+run.ID, rec.Header().Get("Location"))

	// An empty body starts a normal run.
	rec = do(t, h, http.MethodPost, "/api/runs", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.started, 2)
	assert.False(t, svc.started[1].DryRun)
}

func TestStartRun_Conflict(t *testing.T) {
	h := newTestServer(&fakeService{busy: true}, config.SecurityConfig{})

	rec := do(t, h, http.MethodPost, "/api/runs", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RUN_IN_PROGRESS", body.Code)
}

func TestStartRun_BadBody(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, config.SecurityConfig{})

	rec := do(t, h, http.MethodPost, "/api/runs", `{"dryRun":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.started)
}

func TestGetRun(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, config.SecurityConfig{})

	started, err := svc.Start(context.Background(), core.RunRequest{Trigger: core.TriggerCLI})
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/api/runs/"+started.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/runs/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RUN_NOT_FOUND", body.Code)

	rec = do(t, h, http.MethodGet, "/api/runs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []core.RunRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	assert.Len(t, runs, 1)
}

func TestAPIKeyRequired(t *testing.T) {
	security := config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	h := newTestServer(&fakeService{}, security)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/runs", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/api/runs", "", map[string]string{"X-API-Key": "bad"}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/runs", "", map[string]string{"X-API-Key": "k2"}).Code)

	// The status page and health check stay open.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
}

func TestIndexPage(t *testing.T) {
	finished := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	svc := &fakeService{runs: []*core.RunRecord{{
		ID:         "r1",
		Trigger:    core.TriggerSchedule,
		Status:     core.StatusPartial,
		StartedAt:  finished.Add(-5 * time.Second),
		FinishedAt: &finished,
		Products:   3,
		Summary: &reconcile.Summary{
			Listings: 2,
			Counts:   map[reconcile.Kind]int{reconcile.Adjusted: 1, reconcile.NotFound: 1},
		},
		FetchError: `page 2: <bad gateway>`,
	}}}
	h := newTestServer(svc, config.SecurityConfig{})

	rec := do(t, h, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Reconciliation runs")
	assert.Contains(t, body, `class="partial"`)
	assert.Contains(t, body, "not_found")
	assert.Contains(t, body, "5s")
	assert.Contains(t, body, "&lt;bad gateway&gt;")
	assert.NotContains(t, body, "<bad gateway>")
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(rate.Every(time.Minute), 2)
	now := time.Now()

	assert.True(t, rl.allow("10.0.0.1", now))
	assert.True(t, rl.allow("10.0.0.1", now))
	assert.False(t, rl.allow("10.0.0.1", now))
	assert.True(t, rl.allow("10.0.0.2", now), "limits are per client")

	// Idle visitors are forgotten and start with a full bucket.
	later := now.Add(10 * time.Minute)
	assert.True(t, rl.allow("10.0.0.1", later))
	assert.Len(t, rl.visitors, 1)
}
