package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"citygen/internal/domain"
)

const maxConceptBytes = 64 << 10

type runResponse struct {
	ID        string           `json:"id"`
	Status    domain.RunStatus `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	Concept   json.RawMessage  `json:"concept"`
	Outcome   json.RawMessage  `json:"outcome,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func toResponse(run *domain.Run) runResponse {
	resp := runResponse{
		ID:        run.ID,
		Status:    run.Status,
		Reason:    run.Reason,
		Concept:   json.RawMessage(run.ConceptJSON),
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if len(run.OutcomeJSON) > 0 {
		resp.Outcome = json.RawMessage(run.OutcomeJSON)
	}
	return resp
}

// RunsCreate queues a pipeline run for the concept in the request body.
func (a *App) RunsCreate(w http.ResponseWriter, r *http.Request) {
	var concept domain.Concept
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConceptBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&concept); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid concept payload")
		return
	}
	if err := concept.Validate(); err != nil {
		a.error(w, http.StatusUnprocessableEntity, "invalid_concept", err.Error())
		return
	}
	raw, err := json.Marshal(concept)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "encode concept")
		return
	}

	run := &domain.Run{Status: domain.RunStatusQueued, ConceptJSON: raw}
	if err := a.Runs.Create(r.Context(), run); err != nil {
		a.logger(r).Error().Err(err).Msg("runs: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not queue run")
		return
	}
	a.logger(r).Info().Str("run_id", run.ID).Str("theme", concept.Theme).Msg("runs: queued")
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	a.json(w, http.StatusAccepted, toResponse(run))
}

// RunsGet returns one run with its outcome once finished.
func (a *App) RunsGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.Runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		a.logger(r).Error().Err(err).Str("run_id", id).Msg("runs: lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not load run")
		return
	}
	a.json(w, http.StatusOK, toResponse(run))
}

// RunsList returns recent runs, newest first. ?limit= caps the count.
func (a *App) RunsList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := a.Runs.List(r.Context(), limit)
	if err != nil {
		a.logger(r).Error().Err(err).Msg("runs: list failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not list runs")
		return
	}
	items := make([]runResponse, 0, len(runs))
	for i := range runs {
		items = append(items, toResponse(&runs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"runs": items})
}
