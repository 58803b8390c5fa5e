// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// An account can authenticate with a password, with Google, or both. Email is
// the join key between the two paths: the first Google login for an email that
// already has a password account attaches the Google ID to that account
// instead of creating a second one.
//
// WHY GoogleID string (not *string)?
// The column is nullable and UNIQUE. The repository writes NULL for an empty
// string, so many password-only accounts can coexist without tripping the
// UNIQUE constraint, while Go code keeps working with plain strings.
//
// The password hash and the reset-token fields are tagged `json:"-"`. They
// must never leave the server, even by accident in a debug response.
type User struct {
	ID          string `json:"id"`
	GoogleID    string `json:"googleId,omitempty"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Photo       string `json:"photo,omitempty"`

	PasswordHash         string    `json:"-"`
	ResetPasswordToken   string    `json:"-"` // SHA-256 hex of the raw token
	ResetPasswordExpires time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPassword reports whether the account can log in with a password.
// Accounts created through Google have no hash until a reset sets one.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
