package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationEvent is the durable record of a verification: who was
// being checked, in which role, and whether the liveness-gated face
// match confirmed them. The service only persists confirmed ones; the
// Verified column exists so external writers can log failures too.
type VerificationEvent struct {
	ID        string    `json:"id"`
	BookingID int64     `json:"booking_id"`
	Role      string    `json:"role"`
	Person    string    `json:"person"`
	Verified  bool      `json:"verified"`
	// Snapshot is the relative path of the captured probe image, if one
	// was stored for audit.
	Snapshot  string    `json:"snapshot,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewVerificationEvent(bookingID int64, role, person string, verified bool, snapshot string) *VerificationEvent {
	return &VerificationEvent{
		ID:        uuid.New().String(),
		BookingID: bookingID,
		Role:      role,
		Person:    person,
		Verified:  verified,
		Snapshot:  snapshot,
		CreatedAt: time.Now(),
	}
}
