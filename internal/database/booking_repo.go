package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ftlgym/gatecheck/internal/models"
)

type BookingRepo struct {
	db *DB
}

func NewBookingRepo(db *DB) *BookingRepo {
	return &BookingRepo{db: db}
}

// memberNameExpr assembles a display name from first/last name columns,
// falling back to a fixed placeholder when both are empty. The alias is
// the joined member table.
func memberNameExpr(alias string) string {
	trimmed := fmt.Sprintf(
		"TRIM(COALESCE(%s.first_name, '') || ' ' || COALESCE(%s.last_name, ''))",
		alias, alias,
	)
	return fmt.Sprintf("CASE WHEN %s = '' THEN '%s' ELSE %s END",
		trimmed, models.UnknownMemberName, trimmed)
}

// ListBookings returns the newest non-cancelled bookings for the
// dashboard, optionally restricted to one club and to one trainer's
// personal-training sessions (case-insensitive, trimmed name match).
// Gate and role verification flags are filled in by the caller.
func (r *BookingRepo) ListBookings(ctx context.Context, clubID int64, ptName string) ([]*models.Booking, error) {
	query := fmt.Sprintf(`
		SELECT b.id, %s AS member_name,
			CASE WHEN t.id IS NULL THEN ''
				ELSE TRIM(COALESCE(t.first_name, '') || ' ' || COALESCE(t.last_name, '')) END AS trainer_name,
			b.club_id, c.name, b.starts_at
		FROM list_booking b
		JOIN member m ON m.id = b.member_id
		LEFT JOIN member t ON t.id = b.trainer_id AND t.role_id = %d
		JOIN club c ON c.id = b.club_id
		WHERE (b.is_cancelled IS NULL OR b.is_cancelled = 0)
			AND (? = 0 OR b.club_id = ?)
			AND (TRIM(?) = '' OR (t.id IS NOT NULL
				AND LOWER(TRIM(COALESCE(t.first_name, '') || ' ' || COALESCE(t.last_name, ''))) = LOWER(TRIM(?))))
		ORDER BY b.id DESC
		LIMIT 100`, memberNameExpr("m"), trainerRoleID)

	rows, err := r.db.conn.QueryContext(ctx, query, clubID, clubID, ptName, ptName)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b := &models.Booking{}
		if err := rows.Scan(&b.ID, &b.MemberName, &b.TrainerName, &b.ClubID, &b.ClubName, &b.StartsAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetBooking returns one booking by ID, or nil when it does not exist.
func (r *BookingRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := fmt.Sprintf(`
		SELECT b.id, %s AS member_name,
			CASE WHEN t.id IS NULL THEN ''
				ELSE TRIM(COALESCE(t.first_name, '') || ' ' || COALESCE(t.last_name, '')) END AS trainer_name,
			b.club_id, c.name, b.starts_at
		FROM list_booking b
		JOIN member m ON m.id = b.member_id
		LEFT JOIN member t ON t.id = b.trainer_id AND t.role_id = %d
		JOIN club c ON c.id = b.club_id
		WHERE b.id = ?`, memberNameExpr("m"), trainerRoleID)

	b := &models.Booking{}
	err := r.db.conn.QueryRowContext(ctx, query, id).
		Scan(&b.ID, &b.MemberName, &b.TrainerName, &b.ClubID, &b.ClubName, &b.StartsAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListClubs returns all clubs for the dashboard filter.
func (r *BookingRepo) ListClubs(ctx context.Context) ([]*models.Club, error) {
	rows, err := r.db.conn.QueryContext(ctx, "SELECT id, name FROM club ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query clubs: %w", err)
	}
	defer rows.Close()

	var clubs []*models.Club
	for rows.Next() {
		c := &models.Club{}
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan club: %w", err)
		}
		clubs = append(clubs, c)
	}
	return clubs, rows.Err()
}

// trainerRoleID is the member role marking personal trainers.
const trainerRoleID = 11
