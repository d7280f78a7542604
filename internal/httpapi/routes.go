package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paddleduel/pong-backend/internal/session"
)

func SetupRoutes(coord *session.Coordinator, wsHandler http.HandlerFunc, ping func(context.Context) error) http.Handler {
	r := chi.NewRouter()

	r.Post("/join", JoinHandler(coord))
	r.Post("/leave", LeaveHandler(coord))
	r.Post("/move", MoveHandler(coord))
	r.Post("/goal", GoalHandler(coord))
	r.Get("/status", StatusHandler(coord))
	r.Get("/healthz", Healthz(ping))
	if wsHandler != nil {
		r.Get("/ws", wsHandler)
	}
	return r
}
