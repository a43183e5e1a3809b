package models

import "time"

// RefreshToken is the persisted record behind an outstanding refresh token.
// Absence of the record is the revoked state; records are never flagged.
type RefreshToken struct {
	ID        string
	Token     string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is no longer usable at now.
func (r *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
