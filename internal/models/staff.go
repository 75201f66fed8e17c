package models

import "time"

// StaffPTRoleID marks a personal-trainer account; PT logins carry their
// club so the dashboard can pre-select it.
const StaffPTRoleID = 11

// Staff is a reception or trainer account allowed to operate the
// verification dashboard.
type Staff struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	RoleID    int       `json:"role_id"`
	ClubName  string    `json:"club_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Staff) IsPT() bool {
	return s.RoleID == StaffPTRoleID
}
