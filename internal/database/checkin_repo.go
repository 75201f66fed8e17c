package database

import (
	"context"
	"fmt"
)

type CheckinRepo struct {
	db *DB
}

func NewCheckinRepo(db *DB) *CheckinRepo {
	return &CheckinRepo{db: db}
}

// GateVerified reports whether the door-side face recognition logged a
// non-failed pass for this person on the given day. Names are compared
// case-insensitively after trimming, matching how the gate writes them.
func (r *CheckinRepo) GateVerified(ctx context.Context, name, date string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM fr_checkin_logs
		WHERE LOWER(TRIM(name)) = LOWER(TRIM(?))
			AND date = ?
			AND status != 'failed'`

	var count int
	if err := r.db.conn.QueryRowContext(ctx, query, name, date).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query checkin logs: %w", err)
	}
	return count > 0, nil
}
