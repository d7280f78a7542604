package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/paddleduel/pong-backend/internal/game"
	"github.com/paddleduel/pong-backend/internal/session"
)

type joinRequest struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}

type leaveRequest struct {
	ParticipantID string `json:"participant_id"`
}

type moveRequest struct {
	ParticipantID string `json:"participant_id"`
	Dy            int    `json:"dy"`
}

type goalRequest struct {
	Role string `json:"role"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func JoinHandler(coord *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if !decode(w, r, &req) {
			return
		}
		if req.ParticipantID == "" {
			writeError(w, http.StatusBadRequest, "participant_id is required")
			return
		}
		state, err := coord.Join(r.Context(), req.ParticipantID, game.Role(req.Role))
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": string(state)})
	}
}

func LeaveHandler(coord *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req leaveRequest
		if !decode(w, r, &req) {
			return
		}
		if err := coord.Leave(r.Context(), req.ParticipantID); err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": string(coord.Status().State)})
	}
}

func MoveHandler(coord *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req moveRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := coord.Move(r.Context(), req.ParticipantID, req.Dy)
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"role":     string(res.Role),
			"position": res.Position,
		})
	}
}

func GoalHandler(coord *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req goalRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := coord.Goal(r.Context(), game.Role(req.Role))
		if err != nil {
			writeGameError(w, err)
			return
		}
		resp := map[string]any{
			"counted": res.Counted,
			"scores":  res.Scores,
			"won":     res.Won,
		}
		if res.Won {
			resp["winner"] = string(res.Winner)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func StatusHandler(coord *session.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, coord.Status())
	}
}

func Healthz(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "broker unreachable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

// writeGameError maps ledger sentinels onto the error taxonomy: validation
// failures are 400, state conflicts are 409. Nothing here is retried.
func writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrRoleInvalid), errors.Is(err, game.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrSeatTaken),
		errors.Is(err, game.ErrDuplicateParticipant),
		errors.Is(err, game.ErrNotSeated),
		errors.Is(err, game.ErrNotActive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
