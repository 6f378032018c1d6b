package backend

import (
	"strings"
	"time"

	"github.com/edupath/authsync/role"
)

// Profile is the application's record of a user, keyed by the provider UID.
type Profile struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Role           role.Role `json:"role"`
	FirebaseUID    string    `json:"firebase_uid,omitempty"`
	IsActive       bool      `json:"is_active"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	GradeLevel     string    `json:"grade_level,omitempty"`
	Subjects       string    `json:"subjects,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

// Name returns the best available display name.
func (p *Profile) Name() string {
	if p.FullName != "" {
		return p.FullName
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
