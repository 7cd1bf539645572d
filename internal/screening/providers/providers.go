// Package providers contains the invokers that hand a screening request to
// each external backend. Providers are asynchronous collaborators: an
// invocation only delivers the request and the correlation id; the result
// arrives later through the callback endpoints.
package providers

import (
	"context"

	"vigil/internal/screening/models"
)

// Invocation is the request handed to one provider.
type Invocation struct {
	// QueryID is the sole correlation token. Providers echo it back in
	// their callbacks and treat it as opaque.
	QueryID string `json:"query_id"`
	// Subject is the normalized identity data to screen.
	Subject models.Subject `json:"subject"`
	// ResultsURL and FailedURL are where the provider delivers its
	// terminal report.
	ResultsURL string `json:"results_url"`
	FailedURL  string `json:"failed_url"`
}

// Invoker dispatches one invocation to a provider backend. Invoke returns
// once the request has been issued; it never waits for the screening result.
// An error means the invocation could not be delivered at all.
type Invoker interface {
	Kind() models.ProviderKind
	Invoke(ctx context.Context, inv Invocation) error
}
