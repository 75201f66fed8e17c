package models

import "time"

// Booking is one row on the reception dashboard: a booked gym visit
// with the member and trainer names already assembled for display.
type Booking struct {
	ID          int64     `json:"id"`
	MemberName  string    `json:"member_name"`
	TrainerName string    `json:"trainer_name,omitempty"`
	ClubID      int64     `json:"club_id"`
	ClubName    string    `json:"club_name"`
	StartsAt    time.Time `json:"starts_at"`
	// GateVerified is true when the door-side face recognition already
	// logged a successful pass for this member today.
	GateVerified bool `json:"gate_verified"`
	// VerifiedRoles lists the roles already confirmed by a dashboard
	// verification for this booking ("member", "pt").
	VerifiedRoles []string `json:"verified_roles"`
}

// Club is a selectable location filter for the dashboard.
type Club struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

const UnknownMemberName = "Unknown Member"
