package models

import (
	dErrors "vigil/pkg/domain-errors"
)

// ProviderKind discriminates the screening backends. The set is closed: the
// aggregation policy and the callback endpoints are exhaustive over it, and
// payloads stay opaque blobs so adding a kind means adding a constant, an
// invoker and nothing else.
type ProviderKind string

const (
	// ProviderStructuredList is the vector-search lookup against structured
	// sanctions lists.
	ProviderStructuredList ProviderKind = "structured_list"
	// ProviderPEP is the AI reasoning service for politically exposed
	// person assessment.
	ProviderPEP ProviderKind = "pep_ai"
	// ProviderAdverseMedia is the AI reasoning service for adverse media
	// assessment.
	ProviderAdverseMedia ProviderKind = "adverse_media_ai"
)

// AllProviderKinds returns every known provider kind, in stable order.
func AllProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderStructuredList, ProviderPEP, ProviderAdverseMedia}
}

// ParseProviderKind validates a provider kind received at a trust boundary.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch k := ProviderKind(s); k {
	case ProviderStructuredList, ProviderPEP, ProviderAdverseMedia:
		return k, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown provider kind: "+s)
	}
}

// ProviderState is the lifecycle of one outcome slot. A slot starts pending
// and transitions exactly once to succeeded or failed.
type ProviderState string

const (
	ProviderStatePending   ProviderState = "pending"
	ProviderStateSucceeded ProviderState = "succeeded"
	ProviderStateFailed    ProviderState = "failed"
)

// Terminal reports whether the state admits no further transition.
func (s ProviderState) Terminal() bool {
	return s == ProviderStateSucceeded || s == ProviderStateFailed
}

// ProviderError is the structured failure a provider reports, or that the
// orchestrator records on its behalf (dispatch failure, timeout).
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes recorded by the orchestrator itself.
const (
	ErrorCodeDispatchFailed = "dispatch_failed"
	ErrorCodeTimeout        = "timeout"
)
