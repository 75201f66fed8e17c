package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/ftlgym/gatecheck/internal/models"
)

type EventRepo struct {
	db *DB
}

func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// Record persists one resolved verification attempt.
func (r *EventRepo) Record(ctx context.Context, event *models.VerificationEvent) error {
	query := `
		INSERT INTO verification_events (id, booking_id, role, person, verified, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn.ExecContext(ctx, query,
		event.ID,
		event.BookingID,
		event.Role,
		event.Person,
		event.Verified,
		event.Snapshot,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record verification event: %w", err)
	}
	return nil
}

// ListByBooking returns all recorded attempts for one booking, newest
// first.
func (r *EventRepo) ListByBooking(ctx context.Context, bookingID int64) ([]*models.VerificationEvent, error) {
	query := `
		SELECT id, booking_id, role, person, verified, snapshot, created_at
		FROM verification_events
		WHERE booking_id = ?
		ORDER BY created_at DESC`

	rows, err := r.db.conn.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verification events: %w", err)
	}
	defer rows.Close()

	var events []*models.VerificationEvent
	for rows.Next() {
		e := &models.VerificationEvent{}
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Role, &e.Person, &e.Verified, &e.Snapshot, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// VerifiedRoles returns, for each booking ID, the roles that already
// have a successful verification on record.
func (r *EventRepo) VerifiedRoles(ctx context.Context, bookingIDs []int64) (map[int64][]string, error) {
	result := make(map[int64][]string)
	if len(bookingIDs) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(bookingIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT DISTINCT booking_id, role
		FROM verification_events
		WHERE verified = 1 AND booking_id IN (%s)`, placeholders)

	args := make([]interface{}, len(bookingIDs))
	for i, id := range bookingIDs {
		args[i] = id
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verified roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bookingID int64
		var role string
		if err := rows.Scan(&bookingID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan verified role: %w", err)
		}
		result[bookingID] = append(result[bookingID], role)
	}
	return result, rows.Err()
}
