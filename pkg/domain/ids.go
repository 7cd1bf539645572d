// Package domain holds shared domain primitives: strongly typed identifiers
// and closed enumerations used across screening packages.
//
// IDs are distinct named types over uuid.UUID so the compiler rejects a
// QueryID where a ConnectionID is expected. Parse functions enforce the
// invariant "IDs are valid, non-empty, non-nil UUIDs" at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "vigil/pkg/domain-errors"
)

// QueryID identifies one screening query. It doubles as the correlation
// token handed to providers, who treat it as opaque.
type QueryID uuid.UUID

// ConnectionID identifies one live subscriber connection on the stream hub.
type ConnectionID uuid.UUID

// DatasetID identifies one watchlist dataset import.
type DatasetID uuid.UUID

// NewQueryID generates a fresh query identifier.
func NewQueryID() QueryID { return QueryID(uuid.New()) }

// NewConnectionID generates a fresh connection identifier.
func NewConnectionID() ConnectionID { return ConnectionID(uuid.New()) }

// NewDatasetID generates a fresh dataset identifier.
func NewDatasetID() DatasetID { return DatasetID(uuid.New()) }

func (id QueryID) String() string      { return uuid.UUID(id).String() }
func (id ConnectionID) String() string { return uuid.UUID(id).String() }
func (id DatasetID) String() string    { return uuid.UUID(id).String() }

func (id QueryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ConnectionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DatasetID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// The text representation is the canonical UUID string; without these the
// named types would serialize as uuid.UUID's underlying byte array.
func (id QueryID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id ConnectionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id DatasetID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }

func (id *QueryID) UnmarshalText(text []byte) error {
	parsed, err := ParseQueryID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ConnectionID) UnmarshalText(text []byte) error {
	u, err := parseUUID(string(text))
	if err != nil {
		return err
	}
	*id = ConnectionID(u)
	return nil
}

func (id *DatasetID) UnmarshalText(text []byte) error {
	parsed, err := ParseDatasetID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseQueryID validates and converts a string into a QueryID.
func ParseQueryID(s string) (QueryID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return QueryID{}, err
	}
	return QueryID(u), nil
}

// ParseDatasetID validates and converts a string into a DatasetID.
func ParseDatasetID(s string) (DatasetID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return DatasetID{}, err
	}
	return DatasetID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}
