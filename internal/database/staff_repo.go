package database

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/ftlgym/gatecheck/internal/models"
)

type StaffRepo struct {
	db *DB
}

func NewStaffRepo(db *DB) *StaffRepo {
	return &StaffRepo{db: db}
}

// GetByCredentials returns the staff account matching email and
// password, or nil when either is wrong. Unknown emails and bad
// passwords are indistinguishable to the caller.
func (r *StaffRepo) GetByCredentials(ctx context.Context, email, password string) (*models.Staff, error) {
	query := `
		SELECT id, email, password_hash, name, role_id, club_name, created_at
		FROM staff WHERE email = ?`

	s := &models.Staff{}
	var hash string
	var club sql.NullString
	err := r.db.conn.QueryRowContext(ctx, query, email).
		Scan(&s.ID, &s.Email, &hash, &s.Name, &s.RoleID, &club, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query staff: %w", err)
	}
	s.ClubName = club.String

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, nil
	}
	return s, nil
}

// Create inserts a staff account, hashing the password with bcrypt.
// clubName may be empty for non-PT accounts.
func (r *StaffRepo) Create(ctx context.Context, email, password, name string, roleID int, clubName string) (*models.Staff, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var club sql.NullString
	if clubName != "" {
		club = sql.NullString{String: clubName, Valid: true}
	}
	res, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO staff (email, password_hash, name, role_id, club_name) VALUES (?, ?, ?, ?, ?)",
		email, string(hash), name, roleID, club,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create staff: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read staff id: %w", err)
	}
	return r.getByID(ctx, id)
}

func (r *StaffRepo) getByID(ctx context.Context, id int64) (*models.Staff, error) {
	s := &models.Staff{}
	var club sql.NullString
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT id, email, name, role_id, club_name, created_at FROM staff WHERE id = ?", id).
		Scan(&s.ID, &s.Email, &s.Name, &s.RoleID, &club, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	s.ClubName = club.String
	return s, nil
}
