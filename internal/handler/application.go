package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/job-tracker/internal/apperror"
	"github.com/sakif/job-tracker/internal/auth"
	"github.com/sakif/job-tracker/internal/model"
	"github.com/sakif/job-tracker/internal/service"
)

// multipartOverhead is headroom on top of the file limit for the form's
// text fields and part headers.
const multipartOverhead = 1 << 20

// ApplicationHandler serves /applications. Every route sits behind
// auth.RequireAuth, so the caller's user ID is always in the context.
type ApplicationHandler struct {
	service        *service.ApplicationService
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewApplicationHandler(svc *service.ApplicationService, maxUploadBytes int64, logger *slog.Logger) *ApplicationHandler {
	return &ApplicationHandler{
		service:        svc,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// HandleCreate creates an application.
//
// HTTP: POST /applications
// BODY: JSON, or multipart/form-data with the same field names plus an
// optional "resume" file.
// RESPONSE: 201 with the stored record.
func (h *ApplicationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	fields, resume, err := h.readFields(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if resume != nil {
		defer resume.Close()
	}

	app, err := h.service.Create(r.Context(), userID, fields, resume)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// HandleList returns one page of the caller's applications.
//
// HTTP: GET /applications?status=&platform=&search=&sortBy=&sortOrder=&page=&limit=
//
// The body is a bare JSON array. Pagination metadata travels in headers:
// X-Total-Count, X-Page, X-Limit, X-Total-Pages.
func (h *ApplicationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, err := intParam(q.Get("page"), "page")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.service.List(r.Context(), userID, service.ListParams{
		Status:    q.Get("status"),
		Platform:  q.Get("platform"),
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	hdr := w.Header()
	hdr.Set("X-Total-Count", strconv.Itoa(result.Total))
	hdr.Set("X-Page", strconv.Itoa(result.Page))
	hdr.Set("X-Limit", strconv.Itoa(result.Limit))
	hdr.Set("X-Total-Pages", strconv.Itoa(result.TotalPages()))
	writeJSON(w, http.StatusOK, result.Items)
}

// HandleGetByID returns one application.
//
// HTTP: GET /applications/{id}
func (h *ApplicationHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	app, err := h.service.GetByID(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// HandleUpdate applies a partial update.
//
// HTTP: PUT /applications/{id}
// BODY: as for HandleCreate; omitted or empty fields keep their value.
func (h *ApplicationHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	fields, resume, err := h.readFields(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if resume != nil {
		defer resume.Close()
	}

	app, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), fields, resume)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// HandleDelete removes an application.
//
// HTTP: DELETE /applications/{id}
// RESPONSE: 204 No Content
func (h *ApplicationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ApplicationHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
	}
	return id, ok
}

// readFields decodes the editable fields from a JSON or multipart body. For
// multipart requests it also returns the "resume" file, or nil when none
// was attached. The caller closes the file.
func (h *ApplicationHandler) readFields(w http.ResponseWriter, r *http.Request) (model.ApplicationFields, io.ReadCloser, error) {
	var fields model.ApplicationFields

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := decodeJSON(w, r, &fields); err != nil {
			return fields, nil, err
		}
		return fields, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fields, nil, apperror.ValidationFailed("resume", "resume file is too large")
		}
		return fields, nil, apperror.ValidationFailed("body", "invalid multipart form")
	}

	fields = model.ApplicationFields{
		JobTitle:    r.FormValue("jobTitle"),
		Company:     r.FormValue("company"),
		Description: r.FormValue("description"),
		DateApplied: r.FormValue("dateApplied"),
		Status:      r.FormValue("status"),
		JobPlatform: r.FormValue("jobPlatform"),
		JobURL:      r.FormValue("jobUrl"),
	}

	file, _, err := r.FormFile("resume")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return fields, nil, nil
		}
		return fields, nil, apperror.ValidationFailed("resume", "invalid resume upload")
	}
	return fields, file, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
