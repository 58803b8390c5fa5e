// Package repository declares the storage interfaces the services depend
// on. internal/repository/sqlite provides the implementation; service tests
// use in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/job-tracker/internal/model"
)

// UserRepository is the credential store.
type UserRepository interface {
	// CreateUser inserts a new user and fills in ID and timestamps.
	// Returns apperror.ErrConflict when the email (or Google ID) is taken.
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// LinkGoogleAccount attaches a Google identity to an existing account.
	// photo only fills an empty photo; it never replaces one.
	LinkGoogleAccount(ctx context.Context, userID, googleID, photo string) (*model.User, error)
	// SetPasswordReset stores a reset-token hash and its expiry, replacing
	// any earlier pending reset.
	SetPasswordReset(ctx context.Context, userID, tokenHash string, expires time.Time) error
	// ResetPassword sets a new password hash on the user whose reset-token
	// hash matches and has not expired at now, clearing the reset fields in
	// the same statement. Returns apperror.ErrNotFound when nothing matches.
	ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*model.User, error)
}

// ApplicationRepository is the resource store. Every method takes the
// owner's ID and never touches another user's rows; a row owned by someone
// else is reported exactly like a missing one (apperror.ErrNotFound).
type ApplicationRepository interface {
	CreateApplication(ctx context.Context, app *model.JobApplication) error
	GetApplication(ctx context.Context, userID, id string) (*model.JobApplication, error)
	// ListApplications returns one page of matching rows and the total
	// count of matches.
	ListApplications(ctx context.Context, userID string, filter model.ApplicationFilter) ([]model.JobApplication, int, error)
	// UpdateApplication writes every editable field of app, including
	// ResumeURL, and refreshes UpdatedAt.
	UpdateApplication(ctx context.Context, app *model.JobApplication) error
	DeleteApplication(ctx context.Context, userID, id string) error
}
