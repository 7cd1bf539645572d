package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vigil/internal/screening/models"
)

// HTTPInvoker delivers invocations to a provider's enqueue endpoint. The
// provider is expected to acknowledge with a 2xx immediately and report the
// screening outcome later through the callback URLs in the invocation.
type HTTPInvoker struct {
	kind     models.ProviderKind
	endpoint string
	client   *http.Client
}

// NewHTTPInvoker builds an invoker for one provider kind. timeout bounds
// only the enqueue round trip, not the screening itself.
func NewHTTPInvoker(kind models.ProviderKind, endpoint string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		kind:     kind,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HTTPInvoker) Kind() models.ProviderKind { return p.kind }

func (p *HTTPInvoker) Invoke(ctx context.Context, inv Invocation) error {
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build invocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke provider %s: %w", p.kind, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider %s rejected invocation: status %d", p.kind, resp.StatusCode)
	}
	return nil
}
