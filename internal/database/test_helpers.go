package database

import (
	"database/sql"
	"testing"
)

// setupTestDB opens an in-memory SQLite database with the full schema
// applied. The database is torn down with the test.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrator := NewMigrator(db.Conn())
	if err := migrator.Run("../../migrations"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// seedClub inserts a club and returns its ID.
func seedClub(t *testing.T, db *DB, name string) int64 {
	t.Helper()
	res, err := db.Conn().Exec("INSERT INTO club (name) VALUES (?)", name)
	if err != nil {
		t.Fatalf("Failed to seed club: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// seedMember inserts a member row and returns its ID.
func seedMember(t *testing.T, db *DB, firstName, lastName string, roleID int) int64 {
	t.Helper()
	res, err := db.Conn().Exec(
		"INSERT INTO member (first_name, last_name, role_id) VALUES (?, ?, ?)",
		firstName, lastName, roleID,
	)
	if err != nil {
		t.Fatalf("Failed to seed member: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// seedBooking inserts a booking and returns its ID. trainerID 0 means
// no trainer.
func seedBooking(t *testing.T, db *DB, memberID, trainerID, clubID int64) int64 {
	t.Helper()
	var trainer sql.NullInt64
	if trainerID != 0 {
		trainer = sql.NullInt64{Int64: trainerID, Valid: true}
	}
	res, err := db.Conn().Exec(
		"INSERT INTO list_booking (member_id, trainer_id, club_id, starts_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)",
		memberID, trainer, clubID,
	)
	if err != nil {
		t.Fatalf("Failed to seed booking: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// cancelBooking marks a booking cancelled.
func cancelBooking(t *testing.T, db *DB, id int64) {
	t.Helper()
	if _, err := db.Conn().Exec("UPDATE list_booking SET is_cancelled = 1 WHERE id = ?", id); err != nil {
		t.Fatalf("Failed to cancel booking: %v", err)
	}
}
