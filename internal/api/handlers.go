package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ftlgym/gatecheck/internal/database"
	"github.com/ftlgym/gatecheck/internal/logger"
	"github.com/ftlgym/gatecheck/internal/verification"
)

type App struct {
	BookingRepo *database.BookingRepo
	CheckinRepo *database.CheckinRepo
	EventRepo   *database.EventRepo
	StaffRepo   *database.StaffRepo
	Verifier    *verification.Service
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// ServerTimeHandler returns the authoritative clock the dashboard uses
// for day boundaries; kiosk devices drift.
func ServerTimeHandler(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	respondJSON(w, http.StatusOK, map[string]string{
		"time": now.Format(time.RFC3339),
		"date": now.Format("2006-01-02"),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler authenticates a staff account by email and password. The
// returned account carries role_id and club_name so a PT login can
// pre-select their club on the dashboard.
func (app *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	staff, err := app.StaffRepo.GetByCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		logger.Error("login lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if staff == nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, staff)
}

func (app *App) ClubsHandler(w http.ResponseWriter, r *http.Request) {
	clubs, err := app.BookingRepo.ListClubs(r.Context())
	if err != nil {
		logger.Error("failed to list clubs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list clubs")
		return
	}
	respondJSON(w, http.StatusOK, clubs)
}

// BookingsHandler lists dashboard bookings with gate check-in and
// verification flags filled in. Filters: club_id, pt_name (restricts to
// one trainer's PT sessions).
func (app *App) BookingsHandler(w http.ResponseWriter, r *http.Request) {
	var clubID int64
	if raw := r.URL.Query().Get("club_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid club_id")
			return
		}
		clubID = parsed
	}
	ptName := r.URL.Query().Get("pt_name")

	bookings, err := app.BookingRepo.ListBookings(r.Context(), clubID, ptName)
	if err != nil {
		logger.Error("failed to list bookings", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list bookings")
		return
	}

	ids := make([]int64, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	verifiedRoles, err := app.EventRepo.VerifiedRoles(r.Context(), ids)
	if err != nil {
		logger.Error("failed to load verified roles", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list bookings")
		return
	}

	today := time.Now().Format("2006-01-02")
	for _, b := range bookings {
		b.VerifiedRoles = verifiedRoles[b.ID]
		if b.VerifiedRoles == nil {
			b.VerifiedRoles = []string{}
		}
		gateOK, err := app.CheckinRepo.GateVerified(r.Context(), b.MemberName, today)
		if err != nil {
			logger.Warn("gate check lookup failed", zap.Int64("booking_id", b.ID), zap.Error(err))
			continue
		}
		b.GateVerified = gateOK
	}

	respondJSON(w, http.StatusOK, bookings)
}
