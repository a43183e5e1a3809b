package models

import "time"

// Identity is what the credential check hands to the token issuer.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Claims is the identity and validity window carried inside a signed token.
type Claims struct {
	UserID    string
	Email     string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity strips the validity window, leaving what a new token needs.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Name: c.Name}
}
