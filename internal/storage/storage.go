// Package storage keeps uploaded resume files.
//
// The service layer only sees the ResumeStore interface. DiskStore writes
// files under a local directory that the HTTP server also exposes at
// /uploads/, so the URL it returns is directly downloadable.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// DefaultMaxBytes is the upload limit used when none is configured.
const DefaultMaxBytes int64 = 5 << 20

var (
	ErrEmptyFile       = errors.New("storage: file is empty")
	ErrTooLarge        = errors.New("storage: file exceeds the upload limit")
	ErrUnsupportedType = errors.New("storage: unsupported file type")
)

// allowedTypes are the resume formats we accept, detected from content
// rather than trusted from the client's filename or Content-Type.
var allowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/rtf",
	"text/plain",
}

// Object describes a stored file.
type Object struct {
	Key         string // "<ownerID>/<uuid><ext>"
	URL         string
	ContentType string
	Size        int64
}

// ResumeStore saves a resume for an owner and returns where it can be
// fetched from.
type ResumeStore interface {
	Save(ctx context.Context, ownerID string, r io.Reader) (*Object, error)
}

// DiskStore is a ResumeStore backed by a local directory.
type DiskStore struct {
	dir      string
	baseURL  string // e.g. "http://localhost:8080/uploads"
	maxBytes int64
}

var _ ResumeStore = (*DiskStore)(nil)

// NewDiskStore creates the upload directory if needed. publicURL is the
// externally visible base URL of the API; files are served under
// publicURL + "/uploads/".
func NewDiskStore(dir, publicURL string, maxBytes int64) (*DiskStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating upload dir %s: %w", dir, err)
	}
	return &DiskStore{
		dir:      dir,
		baseURL:  strings.TrimRight(publicURL, "/") + "/uploads",
		maxBytes: maxBytes,
	}, nil
}

// Dir returns the directory files are written to.
func (s *DiskStore) Dir() string {
	return s.dir
}

// MaxBytes returns the largest accepted file size.
func (s *DiskStore) MaxBytes() int64 {
	return s.maxBytes
}

// Save validates r as a resume and writes it under the owner's directory.
//
// The whole file is buffered (at most maxBytes+1 bytes are read) so size
// and type can be checked before anything touches the disk. The file is
// written to a temp name and renamed, so a failed write never leaves a
// half-written resume at a URL.
func (s *DiskStore) Save(ctx context.Context, ownerID string, r io.Reader) (*Object, error) {
	if ownerID == "" || ownerID != filepath.Base(ownerID) || ownerID == "." || ownerID == ".." {
		return nil, fmt.Errorf("storage: invalid owner id %q", ownerID)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: reading upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	mtype := mimetype.Detect(data)
	if !isAllowed(mtype) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ownerDir := filepath.Join(s.dir, ownerID)
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating owner dir: %w", err)
	}

	name := uuid.NewString() + mtype.Extension()
	tmp, err := os.CreateTemp(ownerDir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("storage: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("storage: writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("storage: closing file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(ownerDir, name)); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("storage: renaming file: %w", err)
	}

	key := path.Join(ownerID, name)
	return &Object{
		Key:         key,
		URL:         s.baseURL + "/" + key,
		ContentType: mtype.String(),
		Size:        int64(len(data)),
	}, nil
}

// isAllowed checks the detected type, and its aliases, against allowedTypes.
func isAllowed(mtype *mimetype.MIME) bool {
	for _, t := range allowedTypes {
		if mtype.Is(t) {
			return true
		}
	}
	return false
}
