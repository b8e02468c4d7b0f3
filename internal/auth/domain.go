package auth

import "time"

// User is a credentialed account. Every user is also a registered identity
// entity, so it can appear as a policy grantee and as a child in the
// identity hierarchy.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
