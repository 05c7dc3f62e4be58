package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
)

// App holds the dependencies shared by the run API handlers.
type App struct {
	Runs domain.RunRepository
	// Ping checks the run store; nil skips the check.
	Ping   func(ctx context.Context) error
	Logger zerolog.Logger
}

func NewApp(runs domain.RunRepository, ping func(ctx context.Context) error, logger zerolog.Logger) *App {
	return &App{Runs: runs, Ping: ping, Logger: logger}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, errorBody{Error: kind, Message: msg})
}

func (a *App) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
