package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/job-tracker/internal/apperror"
	"github.com/sakif/job-tracker/internal/model"
	"github.com/sakif/job-tracker/internal/repository"
	"github.com/sakif/job-tracker/internal/storage"
)

// Pagination limits for List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	// MaxListPage keeps (page-1)*limit inside int.
	MaxListPage = math.MaxInt/MaxListLimit + 1
)

// ListParams is a list request as the client sent it. Zero values take the
// defaults: page 1, DefaultListLimit rows, newest first.
type ListParams struct {
	Status    string
	Platform  string
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// ApplicationService manages a user's job applications.
//
// Every method takes the caller's user ID and passes it down to the
// repository, which scopes each query by it. A record owned by someone else
// is indistinguishable from a missing one.
type ApplicationService struct {
	repo    repository.ApplicationRepository
	resumes storage.ResumeStore
	logger  *slog.Logger
}

func NewApplicationService(repo repository.ApplicationRepository, resumes storage.ResumeStore, logger *slog.Logger) *ApplicationService {
	return &ApplicationService{
		repo:    repo,
		resumes: resumes,
		logger:  logger,
	}
}

// Create validates fields and stores a new application owned by userID.
// resume may be nil; when present it is stored first and its URL recorded
// on the application.
//
// Validation runs before the upload, so a request missing a field never
// writes a file. A database failure after a successful upload does leave
// the file behind.
func (s *ApplicationService) Create(ctx context.Context, userID string, fields model.ApplicationFields, resume io.Reader) (*model.JobApplication, error) {
	fields = trimFields(fields)
	app := &model.JobApplication{
		JobTitle:    fields.JobTitle,
		Company:     fields.Company,
		Description: fields.Description,
		DateApplied: fields.DateApplied,
		Status:      fields.Status,
		JobPlatform: fields.JobPlatform,
		JobURL:      fields.JobURL,
		UserID:      userID,
	}
	if err := validateStruct(app); err != nil {
		return nil, err
	}

	if resume != nil {
		url, err := s.saveResume(ctx, userID, resume)
		if err != nil {
			return nil, err
		}
		app.ResumeURL = url
	}

	if err := s.repo.CreateApplication(ctx, app); err != nil {
		s.logger.ErrorContext(ctx, "failed to create application",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating application: %w", err)
	}

	s.logger.InfoContext(ctx, "application created",
		slog.String("id", app.ID),
		slog.String("userID", userID),
	)
	return app, nil
}

// List returns one page of userID's applications.
func (s *ApplicationService) List(ctx context.Context, userID string, p ListParams) (*model.ApplicationPage, error) {
	sortBy := strings.TrimSpace(p.SortBy)
	if sortBy == "" {
		sortBy = model.SortByCreatedAt
	}
	if !model.IsSortField(sortBy) {
		return nil, apperror.ValidationFailed("sortBy",
			fmt.Sprintf("sortBy must be one of %s", strings.Join(model.SortFields, ", ")))
	}

	sortOrder := strings.ToLower(strings.TrimSpace(p.SortOrder))
	switch sortOrder {
	case "":
		sortOrder = model.SortDesc
	case model.SortAsc, model.SortDesc:
	default:
		return nil, apperror.ValidationFailed("sortOrder", "sortOrder must be asc or desc")
	}

	page := p.Page
	if page < 1 {
		page = 1
	}
	if page > MaxListPage {
		return nil, apperror.ValidationFailed("page", "page is too large")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	items, total, err := s.repo.ListApplications(ctx, userID, model.ApplicationFilter{
		Status:    strings.TrimSpace(p.Status),
		Platform:  strings.TrimSpace(p.Platform),
		Search:    strings.TrimSpace(p.Search),
		SortBy:    sortBy,
		SortOrder: sortOrder,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list applications",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing applications: %w", err)
	}

	return &model.ApplicationPage{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
	}, nil
}

// GetByID returns one of userID's applications.
func (s *ApplicationService) GetByID(ctx context.Context, userID, id string) (*model.JobApplication, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "application ID is required")
	}
	return s.repo.GetApplication(ctx, userID, id)
}

// Update applies a partial update: non-empty fields overwrite, empty ones
// keep the stored value. The resume URL changes only when a new file is
// uploaded.
//
// STRATEGY: fetch then update. The fetch is owner-scoped, so a foreign ID
// fails with NotFound before any file is stored.
func (s *ApplicationService) Update(ctx context.Context, userID, id string, fields model.ApplicationFields, resume io.Reader) (*model.JobApplication, error) {
	app, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	fields = trimFields(fields)
	setIfNotEmpty(&app.JobTitle, fields.JobTitle)
	setIfNotEmpty(&app.Company, fields.Company)
	setIfNotEmpty(&app.Description, fields.Description)
	setIfNotEmpty(&app.DateApplied, fields.DateApplied)
	setIfNotEmpty(&app.Status, fields.Status)
	setIfNotEmpty(&app.JobPlatform, fields.JobPlatform)
	setIfNotEmpty(&app.JobURL, fields.JobURL)

	if resume != nil {
		url, err := s.saveResume(ctx, userID, resume)
		if err != nil {
			return nil, err
		}
		app.ResumeURL = url
	}

	if err := s.repo.UpdateApplication(ctx, app); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "failed to update application",
			slog.String("id", app.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating application: %w", err)
	}

	s.logger.InfoContext(ctx, "application updated", slog.String("id", app.ID))
	return app, nil
}

// Delete removes one of userID's applications. The stored resume file is
// kept.
func (s *ApplicationService) Delete(ctx context.Context, userID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "application ID is required")
	}
	if err := s.repo.DeleteApplication(ctx, userID, id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "application deleted", slog.String("id", id))
	return nil
}

// saveResume stores an upload and maps the store's rejections to
// validation errors on the "resume" field.
func (s *ApplicationService) saveResume(ctx context.Context, userID string, r io.Reader) (string, error) {
	obj, err := s.resumes.Save(ctx, userID, r)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrEmptyFile):
			return "", apperror.ValidationFailed("resume", "resume file is empty")
		case errors.Is(err, storage.ErrTooLarge):
			return "", apperror.ValidationFailed("resume", "resume file is too large")
		case errors.Is(err, storage.ErrUnsupportedType):
			return "", apperror.ValidationFailed("resume", "resume must be a PDF, Word, RTF or plain text file")
		}
		return "", fmt.Errorf("storing resume: %w", err)
	}
	return obj.URL, nil
}

func trimFields(f model.ApplicationFields) model.ApplicationFields {
	return model.ApplicationFields{
		JobTitle:    strings.TrimSpace(f.JobTitle),
		Company:     strings.TrimSpace(f.Company),
		Description: strings.TrimSpace(f.Description),
		DateApplied: strings.TrimSpace(f.DateApplied),
		Status:      strings.TrimSpace(f.Status),
		JobPlatform: strings.TrimSpace(f.JobPlatform),
		JobURL:      strings.TrimSpace(f.JobURL),
	}
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
