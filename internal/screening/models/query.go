package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Subject is the normalized identity data a screening query runs against.
// Read-only after query creation.
type Subject struct {
	FullName  string   `json:"full_name"`
	BirthDate string   `json:"birth_date,omitempty"` // YYYY-MM-DD
	Country   string   `json:"country,omitempty"`    // ISO 3166-1 alpha-2
	Aliases   []string `json:"aliases,omitempty"`
}

// Normalize canonicalizes subject fields so equivalent submissions produce
// the same fingerprint: whitespace collapsed, names lowercased, country
// uppercased, aliases deduplicated.
func (s Subject) Normalize() Subject {
	out := Subject{
		FullName:  strings.ToLower(strings.Join(strings.Fields(s.FullName), " ")),
		BirthDate: strings.TrimSpace(s.BirthDate),
		Country:   strings.ToUpper(strings.TrimSpace(s.Country)),
	}
	seen := make(map[string]struct{}, len(s.Aliases))
	for _, alias := range s.Aliases {
		a := strings.ToLower(strings.Join(strings.Fields(alias), " "))
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out.Aliases = append(out.Aliases, a)
	}
	return out
}

// Fingerprint returns a stable hash of the normalized subject, used for
// audit correlation without persisting raw PII in the audit trail.
func (s Subject) Fingerprint() string {
	n := s.Normalize()
	h := sha256.New()
	h.Write([]byte(n.FullName))
	h.Write([]byte{0})
	h.Write([]byte(n.BirthDate))
	h.Write([]byte{0})
	h.Write([]byte(n.Country))
	for _, alias := range n.Aliases {
		h.Write([]byte{0})
		h.Write([]byte(alias))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ProviderOutcome is the per-(query, provider) result slot.
//
// Invariants:
//   - State transitions pending → succeeded or pending → failed at most once
//   - Result is set exactly when State is succeeded
//   - Error is set exactly when State is failed
//   - ReportedAt is set exactly when State is terminal
type ProviderOutcome struct {
	Provider   ProviderKind    `json:"provider"`
	State      ProviderState   `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *ProviderError  `json:"error,omitempty"`
	ReportedAt *time.Time      `json:"reported_at,omitempty"`
}

// Outcome is a terminal report for one provider slot: exactly one of Result
// or Error is set. It is the payload of ApplyOutcome.
type Outcome struct {
	Result     json.RawMessage
	Error      *ProviderError
	ReportedAt time.Time
}

// Succeeded reports whether the outcome is a success report.
func (o Outcome) Succeeded() bool { return o.Error == nil }

// Query is one screening request and its aggregate state across all enabled
// providers.
//
// Invariants:
//   - Outcome slots exist for exactly EnabledProviders, created atomically
//     with the query, never added or removed afterward
//   - EnabledProviders is non-empty and duplicate-free
//   - Revision increases by one on every applied slot transition; it is the
//     ordering token for events pushed to subscribers
type Query struct {
	ID               id.QueryID                        `json:"id"`
	Subject          Subject                           `json:"subject"`
	EnabledProviders []ProviderKind                    `json:"enabled_providers"`
	CreatedAt        time.Time                         `json:"created_at"`
	Revision         uint64                            `json:"revision"`
	Outcomes         map[ProviderKind]*ProviderOutcome `json:"outcomes"`
}

// NewQuery builds a query with one pending slot per enabled provider.
func NewQuery(queryID id.QueryID, subject Subject, providers []ProviderKind, now time.Time) (*Query, error) {
	if strings.TrimSpace(subject.FullName) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject full name cannot be empty")
	}
	if len(providers) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "at least one provider must be enabled")
	}
	outcomes := make(map[ProviderKind]*ProviderOutcome, len(providers))
	enabled := make([]ProviderKind, 0, len(providers))
	for _, kind := range providers {
		if _, dup := outcomes[kind]; dup {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "duplicate provider: "+string(kind))
		}
		outcomes[kind] = &ProviderOutcome{Provider: kind, State: ProviderStatePending}
		enabled = append(enabled, kind)
	}
	return &Query{
		ID:               queryID,
		Subject:          subject.Normalize(),
		EnabledProviders: enabled,
		CreatedAt:        now,
		Outcomes:         outcomes,
	}, nil
}

// Status derives the aggregate status from the current slot states.
func (q *Query) Status() QueryStatus {
	states := make([]ProviderState, 0, len(q.EnabledProviders))
	for _, kind := range q.EnabledProviders {
		states = append(states, q.Outcomes[kind].State)
	}
	return DeriveStatus(states)
}

// Clone returns a deep copy so stores can hand out snapshots that callers
// cannot use to mutate shared state.
func (q *Query) Clone() *Query {
	cp := *q
	cp.EnabledProviders = append([]ProviderKind(nil), q.EnabledProviders...)
	cp.Outcomes = make(map[ProviderKind]*ProviderOutcome, len(q.Outcomes))
	for kind, outcome := range q.Outcomes {
		oc := *outcome
		if outcome.Result != nil {
			oc.Result = append(json.RawMessage(nil), outcome.Result...)
		}
		if outcome.Error != nil {
			e := *outcome.Error
			oc.Error = &e
		}
		if outcome.ReportedAt != nil {
			ts := *outcome.ReportedAt
			oc.ReportedAt = &ts
		}
		cp.Outcomes[kind] = &oc
	}
	cp.Subject.Aliases = append([]string(nil), q.Subject.Aliases...)
	return &cp
}
