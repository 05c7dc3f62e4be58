package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
	"citygen/internal/http/handlers"
)

type memoryRuns struct {
	mu   sync.Mutex
	runs map[string]*domain.Run
	err  error
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{runs: make(map[string]*domain.Run)}
}

func (m *memoryRuns) Create(ctx context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	run.ID = "run-" + string(rune('a'+len(m.runs)))
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memoryRuns) Claim(ctx context.Context) (*domain.Run, error) {
	return nil, domain.ErrNotFound
}

func (m *memoryRuns) Complete(ctx context.Context, runID string, status domain.RunStatus, reason string, outcomeJSON []byte) error {
	return nil
}

func (m *memoryRuns) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	run, ok := m.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memoryRuns) List(ctx context.Context, limit int) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, *run)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestRouter(runs *memoryRuns, ping func(context.Context) error) http.Handler {
	app := handlers.NewApp(runs, ping, zerolog.Nop())
	return NewRouter(app, RouterOptions{RateLimitPerMin: 100, Logger: zerolog.Nop()})
}

func TestCreateAndGetRun(t *testing.T) {
	runs := newMemoryRuns()
	router := newTestRouter(runs, nil)

	body := strings.NewReader(`{"theme":"floating harbour","scale":"small"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID      string          `json:"id"`
		Status  string          `json:"status"`
		Concept json.RawMessage `json:"concept"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Status != "queued" {
		t.Fatalf("status = %q, want queued", created.Status)
	}
	if rec.Header().Get("Location") != "/v1/runs/"+created.ID {
		t.Fatalf("Location = %q", rec.Header().Get("Location"))
	}
	if !strings.Contains(string(created.Concept), "floating harbour") {
		t.Fatalf("concept not echoed: %s", created.Concept)
	}

	runs.runs[created.ID].Status = domain.RunStatusSuccess
	runs.runs[created.ID].OutcomeJSON = []byte(`{"status":"success","reason":"reviewer satisfied"}`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"reviewer satisfied"`) {
		t.Fatalf("outcome missing from %s", rec.Body.String())
	}
}

func TestCreateRunValidation(t *testing.T) {
	router := newTestRouter(newMemoryRuns(), nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed", body: `{"theme":`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"theme":"x","colour":"red"}`, want: http.StatusBadRequest},
		{name: "missing theme", body: `{"scale":"large"}`, want: http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(tc.body)))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestGetUnknownRun(t *testing.T) {
	router := newTestRouter(newMemoryRuns(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateRunStoreFailure(t *testing.T) {
	runs := newMemoryRuns()
	runs.err = errors.New("connection refused")
	router := newTestRouter(runs, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{"theme":"x"}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	router := newTestRouter(newMemoryRuns(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(newMemoryRuns(), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	down := func(context.Context) error { return errors.New("down") }
	rec = httptest.NewRecorder()
	newTestRouter(newMemoryRuns(), down).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(newMemoryRuns(), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	for _, path := range []string{"/v1/runs", "/v1/runs/{id}", "/v1/healthz"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Fatalf("openapi document missing %s", path)
		}
	}
}

func TestOpenAPIDocumentRevalidates(t *testing.T) {
	router := newTestRouter(newMemoryRuns(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec.Code)
	}
}
