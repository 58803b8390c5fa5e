package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/job-tracker/internal/apperror"
	"github.com/sakif/job-tracker/internal/model"
	"github.com/sakif/job-tracker/internal/repository"
)

var _ repository.ApplicationRepository = (*DB)(nil)

const applicationColumns = `id, user_id, job_title, company, description, date_applied,
	status, job_platform, job_url, resume_url, created_at, updated_at`

// sortColumns whitelists the sortable fields. ORDER BY cannot take a bound
// parameter, so the column name is interpolated; only values from this map
// ever reach the query string.
var sortColumns = map[string]string{
	model.SortByCreatedAt:   "created_at",
	model.SortByUpdatedAt:   "updated_at",
	model.SortByDateApplied: "date_applied",
	model.SortByJobTitle:    "job_title",
	model.SortByCompany:     "company",
	model.SortByStatus:      "status",
	model.SortByJobPlatform: "job_platform",
}

func scanApplication(row rowScanner) (*model.JobApplication, error) {
	var a model.JobApplication
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.JobTitle,
		&a.Company,
		&a.Description,
		&a.DateApplied,
		&a.Status,
		&a.JobPlatform,
		&a.JobURL,
		&a.ResumeURL,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateApplication inserts app. ID and timestamps are generated here;
// app.UserID must already name the owner.
func (db *DB) CreateApplication(ctx context.Context, app *model.JobApplication) error {
	now := time.Now().UTC()
	app.ID = xid.New().String()
	app.CreatedAt = now
	app.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO job_applications (`+applicationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID,
		app.UserID,
		app.JobTitle,
		app.Company,
		app.Description,
		app.DateApplied,
		app.Status,
		app.JobPlatform,
		app.JobURL,
		app.ResumeURL,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting application for user %s: %w", app.UserID, err)
	}
	return nil
}

// GetApplication returns the application with id if userID owns it.
func (db *DB) GetApplication(ctx context.Context, userID, id string) (*model.JobApplication, error) {
	app, err := scanApplication(db.conn.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM job_applications WHERE id = ? AND user_id = ?`,
		id, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("application", id)
		}
		return nil, fmt.Errorf("sqlite: getting application %s: %w", id, err)
	}
	return app, nil
}

// ListApplications returns one page of userID's applications matching
// filter, plus the total number of matches.
//
// SEARCH:
// Search is a case-insensitive substring match on job title, company and
// platform. Both sides are folded with Unicode rules (unicode_lower), not
// SQLite's ASCII-only LOWER(). % and _ in the user's input are escaped so they match
// literally instead of acting as LIKE wildcards.
func (db *DB) ListApplications(ctx context.Context, userID string, filter model.ApplicationFilter) ([]model.JobApplication, int, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Platform != "" {
		where = append(where, "job_platform = ?")
		args = append(args, filter.Platform)
	}
	if filter.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(filter.Search)) + "%"
		where = append(where, `(unicode_lower(job_title) LIKE ? ESCAPE '\'
			OR unicode_lower(company) LIKE ? ESCAPE '\'
			OR unicode_lower(job_platform) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_applications WHERE `+whereSQL, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting applications: %w", err)
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if filter.SortOrder == model.SortAsc {
		direction = "ASC"
	}

	// LIMIT -1 means "no limit" in SQLite.
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	query := fmt.Sprintf(
		`SELECT %s FROM job_applications WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		applicationColumns, whereSQL, column, direction, direction,
	)
	rows, err := db.conn.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing applications: %w", err)
	}
	defer rows.Close()

	// Non-nil so an empty page encodes as [] rather than null.
	apps := []model.JobApplication{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scanning application row: %w", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: iterating application rows: %w", err)
	}

	return apps, total, nil
}

// UpdateApplication overwrites the editable fields of an application owned
// by app.UserID. The owner check is part of the WHERE clause, so a
// non-owner's update affects zero rows and is reported as not found.
func (db *DB) UpdateApplication(ctx context.Context, app *model.JobApplication) error {
	app.UpdatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE job_applications
		 SET job_title = ?, company = ?, description = ?, date_applied = ?,
		     status = ?, job_platform = ?, job_url = ?, resume_url = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		app.JobTitle,
		app.Company,
		app.Description,
		app.DateApplied,
		app.Status,
		app.JobPlatform,
		app.JobURL,
		app.ResumeURL,
		app.UpdatedAt,
		app.ID,
		app.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating application %s: %w", app.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("application", app.ID)
	}
	return nil
}

// DeleteApplication removes an application owned by userID.
func (db *DB) DeleteApplication(ctx context.Context, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM job_applications WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting application %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("application", id)
	}
	return nil
}

// escapeLike escapes LIKE metacharacters using backslash as the escape
// character.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
