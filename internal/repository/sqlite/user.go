package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/job-tracker/internal/apperror"
	"github.com/sakif/job-tracker/internal/model"
	"github.com/sakif/job-tracker/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, google_id, display_name, email, photo, password_hash,
	reset_password_token, reset_password_expires, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u          model.User
		googleID   sql.NullString
		resetToken sql.NullString
		resetExp   sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&googleID,
		&u.DisplayName,
		&u.Email,
		&u.Photo,
		&u.PasswordHash,
		&resetToken,
		&resetExp,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.GoogleID = googleID.String
	u.ResetPasswordToken = resetToken.String
	if resetExp.Valid {
		u.ResetPasswordExpires = time.UnixMilli(resetExp.Int64).UTC()
	}
	return &u, nil
}

// CreateUser inserts a new user. ID and timestamps are generated here.
//
// Duplicate emails are caught by the UNIQUE constraint rather than a prior
// SELECT, so two concurrent registrations for one email cannot both win.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, google_id, display_name, email, photo, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		nullIfEmpty(user.GoogleID),
		user.DisplayName,
		user.Email,
		user.Photo,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if column, ok := isUniqueViolation(err); ok {
			if column == "users.google_id" {
				return apperror.Conflict("google account", user.GoogleID)
			}
			return apperror.Conflict("user with email", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}

	return nil
}

// GetUserByID retrieves a user by internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail looks a user up by email, ignoring case.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// LinkGoogleAccount records googleID on the user and fills in the photo if
// the account has none yet.
func (db *DB) LinkGoogleAccount(ctx context.Context, userID, googleID, photo string) (*model.User, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET google_id = ?,
		     photo = CASE WHEN photo = '' THEN ? ELSE photo END,
		     updated_at = ?
		 WHERE id = ?`,
		googleID, photo, time.Now().UTC(), userID,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return nil, apperror.Conflict("google account", googleID)
		}
		return nil, fmt.Errorf("sqlite: linking google account to %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperror.NotFound("user", userID)
	}

	return db.GetUserByID(ctx, userID)
}

// SetPasswordReset stores the hash of a freshly issued reset token.
func (db *DB) SetPasswordReset(ctx context.Context, userID, tokenHash string, expires time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET reset_password_token = ?, reset_password_expires = ?, updated_at = ?
		 WHERE id = ?`,
		tokenHash, expires.UnixMilli(), time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing reset token for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ResetPassword redeems a reset token.
//
// SINGLE USE:
// Matching the token and clearing it happen in one UPDATE. Two concurrent
// redemptions of the same token serialize on SQLite's write lock; the
// second one finds reset_password_token already NULL and matches no row.
func (db *DB) ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`UPDATE users
		 SET password_hash = ?,
		     reset_password_token = NULL,
		     reset_password_expires = NULL,
		     updated_at = ?
		 WHERE reset_password_token = ? AND reset_password_expires > ?
		 RETURNING `+userColumns,
		passwordHash, now.UTC(), tokenHash, now.UnixMilli(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("password reset token", "(redacted)")
		}
		return nil, fmt.Errorf("sqlite: resetting password: %w", err)
	}
	return u, nil
}
