package model

import "time"

// JobApplication is one job a user has applied to.
//
// Every field except ResumeURL is required. DateApplied is kept as the
// string the client sent ("2024-01-01") rather than a time.Time, since it is a
// calendar date with no time zone and is only ever displayed and sorted.
// ISO dates sort correctly as strings.
//
// UserID is serialized as "user": it names the owner, and every query against
// this type is scoped by it.
type JobApplication struct {
	ID          string    `json:"id"`
	JobTitle    string    `json:"jobTitle"    validate:"required"`
	Company     string    `json:"company"     validate:"required"`
	Description string    `json:"description" validate:"required"`
	DateApplied string    `json:"dateApplied" validate:"required"`
	Status      string    `json:"status"      validate:"required"`
	JobPlatform string    `json:"jobPlatform" validate:"required"`
	JobURL      string    `json:"jobUrl"      validate:"required"`
	ResumeURL   string    `json:"resumeUrl,omitempty"`
	UserID      string    `json:"user"        validate:"required"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ApplicationFields carries the user-editable fields of a JobApplication,
// as submitted in a create or update request.
type ApplicationFields struct {
	JobTitle    string `json:"jobTitle"`
	Company     string `json:"company"`
	Description string `json:"description"`
	DateApplied string `json:"dateApplied"`
	Status      string `json:"status"`
	JobPlatform string `json:"jobPlatform"`
	JobURL      string `json:"jobUrl"`
}

// ApplicationFilter describes a list query. Zero values mean "no filter";
// the service fills in defaults for sort and pagination before the
// repository sees it.
type ApplicationFilter struct {
	Status    string
	Platform  string
	Search    string
	SortBy    string // one of the SortBy* constants
	SortOrder string // "asc" or "desc"
	Limit     int
	Offset    int
}

// Sortable fields for ApplicationFilter.SortBy, named as the client sends them.
const (
	SortByCreatedAt   = "createdAt"
	SortByUpdatedAt   = "updatedAt"
	SortByDateApplied = "dateApplied"
	SortByJobTitle    = "jobTitle"
	SortByCompany     = "company"
	SortByStatus      = "status"
	SortByJobPlatform = "jobPlatform"
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// SortFields lists every accepted SortBy value.
var SortFields = []string{
	SortByCreatedAt,
	SortByUpdatedAt,
	SortByDateApplied,
	SortByJobTitle,
	SortByCompany,
	SortByStatus,
	SortByJobPlatform,
}

// IsSortField reports whether field is an accepted SortBy value.
func IsSortField(field string) bool {
	for _, f := range SortFields {
		if f == field {
			return true
		}
	}
	return false
}

// ApplicationPage is one page of a filtered list plus the total number of
// matching records across all pages.
type ApplicationPage struct {
	Items []JobApplication
	Total int
	Page  int
	Limit int
}

// TotalPages returns how many pages of size Limit cover Total.
func (p ApplicationPage) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
