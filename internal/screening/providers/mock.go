package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vigil/internal/screening/models"
)

// ReportFunc delivers a mock provider's terminal report back into the
// orchestrator. Exactly one of result or provErr is set.
type ReportFunc func(ctx context.Context, queryID string, kind models.ProviderKind, result json.RawMessage, provErr *models.ProviderError)

// MockInvoker simulates an asynchronous provider for local development and
// tests: it accepts the invocation immediately and reports a deterministic
// outcome after Latency, exercising the same callback path a real provider
// would use.
type MockInvoker struct {
	ProviderKind models.ProviderKind
	Latency      time.Duration
	// Fail makes the mock report a failure instead of a result.
	Fail bool
	// Listed controls the deterministic match outcome for tests.
	Listed bool
	Report ReportFunc
}

func (m *MockInvoker) Kind() models.ProviderKind { return m.ProviderKind }

func (m *MockInvoker) Invoke(_ context.Context, inv Invocation) error {
	go func() {
		if m.Latency > 0 {
			time.Sleep(m.Latency)
		}
		// The invocation's request context ends with the dispatch request;
		// reports run under their own context like any external callback.
		ctx := context.Background()
		if m.Fail {
			m.Report(ctx, inv.QueryID, m.ProviderKind, nil, &models.ProviderError{
				Code:    "mock_failure",
				Message: fmt.Sprintf("mock %s provider configured to fail", m.ProviderKind),
			})
			return
		}
		m.Report(ctx, inv.QueryID, m.ProviderKind, m.payload(inv), nil)
	}()
	return nil
}

func (m *MockInvoker) payload(inv Invocation) json.RawMessage {
	var payload any
	switch m.ProviderKind {
	case models.ProviderStructuredList:
		matches := []map[string]any{}
		if m.Listed {
			matches = append(matches, map[string]any{
				"list":  "mock_sanctions",
				"name":  inv.Subject.FullName,
				"score": 0.97,
			})
		}
		payload = map[string]any{"matches": matches}
	case models.ProviderPEP:
		payload = map[string]any{
			"is_pep":     m.Listed,
			"confidence": 0.9,
			"reasoning":  "mock assessment",
		}
	default:
		risk := "none"
		if m.Listed {
			risk = "high"
		}
		payload = map[string]any{"risk_level": risk, "articles": []string{}}
	}
	raw, _ := json.Marshal(payload)
	return raw
}
