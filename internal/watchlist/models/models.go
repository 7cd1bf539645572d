// Package models holds the watchlist dataset types. Ingestion is the simple
// counterpart to screening: a linear truncate, batch, complete-or-fail
// lifecycle with no concurrent writers per dataset.
package models

import (
	"strings"
	"time"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// DatasetStatus is the import lifecycle. Transitions are strictly linear:
// loading → ready or loading → failed, exactly once.
type DatasetStatus string

const (
	StatusLoading DatasetStatus = "loading"
	StatusReady   DatasetStatus = "ready"
	StatusFailed  DatasetStatus = "failed"
)

// Terminal reports whether the import admits no further transition.
func (s DatasetStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Dataset is one import run of a watchlist source. A new run truncates the
// source's staging area; entries only become visible to screening lookups
// when the run completes.
type Dataset struct {
	ID          id.DatasetID  `json:"id"`
	Source      string        `json:"source"`
	Status      DatasetStatus `json:"status"`
	Entries     int           `json:"entries"`
	Reason      string        `json:"reason,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// NewDataset starts an import run for source.
func NewDataset(datasetID id.DatasetID, source string, now time.Time) (*Dataset, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "source cannot be empty")
	}
	return &Dataset{
		ID:        datasetID,
		Source:    source,
		Status:    StatusLoading,
		StartedAt: now,
	}, nil
}

// Entry is one watchlist row.
type Entry struct {
	List    string   `json:"list"`
	Name    string   `json:"name"`
	Country string   `json:"country,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// Normalize canonicalizes an entry the same way screening subjects are
// normalized, so lookups compare like with like.
func (e Entry) Normalize() Entry {
	out := Entry{
		List:    strings.ToLower(strings.TrimSpace(e.List)),
		Name:    strings.ToLower(strings.Join(strings.Fields(e.Name), " ")),
		Country: strings.ToUpper(strings.TrimSpace(e.Country)),
	}
	for _, alias := range e.Aliases {
		if a := strings.ToLower(strings.Join(strings.Fields(alias), " ")); a != "" {
			out.Aliases = append(out.Aliases, a)
		}
	}
	return out
}
