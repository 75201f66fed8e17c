package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ftlgym/gatecheck/internal/logger"
	"github.com/ftlgym/gatecheck/internal/verification"
)

type startSessionRequest struct {
	BookingID int64  `json:"booking_id"`
	Role      string `json:"role"`
	Person    string `json:"person"`
}

type sessionResponse struct {
	SessionID  string                `json:"session_id"`
	State      verification.State    `json:"state"`
	BlinkFired bool                  `json:"blink_fired"`
	Booking    verification.Booking  `json:"booking"`
	Outcome    *verification.Outcome `json:"outcome,omitempty"`
}

func sessionJSON(session *verification.Session) sessionResponse {
	return sessionResponse{
		SessionID:  session.ID,
		State:      session.State(),
		BlinkFired: session.BlinkFired(),
		Booking:    session.Booking,
		Outcome:    session.Outcome(),
	}
}

// StartSessionHandler opens a verification session for one party of a
// booking. When the request omits the person, the name is taken from
// the booking itself.
func (app *App) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role := verification.Role(req.Role)
	if !role.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", req.Role))
		return
	}

	person := strings.TrimSpace(req.Person)
	if person == "" {
		booking, err := app.BookingRepo.GetBooking(r.Context(), req.BookingID)
		if err != nil {
			logger.Error("booking lookup failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to load booking")
			return
		}
		if booking == nil {
			respondError(w, http.StatusNotFound, "booking not found")
			return
		}
		switch role {
		case verification.RoleMember:
			person = booking.MemberName
		case verification.RolePT:
			if booking.TrainerName == "" {
				respondError(w, http.StatusBadRequest, "booking has no trainer")
				return
			}
			person = booking.TrainerName
		}
	}

	session, err := app.Verifier.StartVerification(r.Context(), verification.Booking{
		BookingID: req.BookingID,
		Role:      role,
		Person:    person,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, sessionJSON(session))
}

func (app *App) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, exists := app.Verifier.GetSession(sessionID)
	if !exists {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	respondJSON(w, http.StatusOK, sessionJSON(session))
}

// SessionStreamHandler streams session updates as server-sent events
// until the client disconnects or the session is torn down.
func (app *App) SessionStreamHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, exists := app.Verifier.GetSession(sessionID)
	if !exists {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Snapshot first so a subscriber joining late still learns the
	// current state.
	initial, err := json.Marshal(sessionJSON(session))
	if err == nil {
		fmt.Fprintf(w, "event: state\ndata: %s\n\n", initial)
		flusher.Flush()
	}

	clientGone := r.Context().Done()

	for {
		select {
		case update, ok := <-session.Updates():
			if !ok {
				return
			}

			data, err := json.Marshal(update.Data)
			if err != nil {
				logger.Warn("failed to marshal session update", zap.Error(err))
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, data)
			flusher.Flush()

		case <-clientGone:
			return
		}
	}
}

func (app *App) RetrySessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	err := app.Verifier.Retry(sessionID)
	switch {
	case errors.Is(err, verification.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, verification.ErrNotResolved):
		respondError(w, http.StatusConflict, "session is not resolved")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "retry failed")
	default:
		session, _ := app.Verifier.GetSession(sessionID)
		respondJSON(w, http.StatusOK, sessionJSON(session))
	}
}

func (app *App) TeardownSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := app.Verifier.Teardown(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "state": "idle"})
}

// EventsHandler lists recorded verification attempts for one booking.
func (app *App) EventsHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, err := parseID(chi.URLParam(r, "bookingID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	events, err := app.EventRepo.ListByBooking(r.Context(), bookingID)
	if err != nil {
		logger.Error("failed to list events", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
