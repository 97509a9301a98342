package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	sharedhttp "github.com/mindforge/altec/pkg/shared/http"
)

// httpResultStore persists pipeline artifacts to an external result store
// service over HTTP, using the shared client presets tuned for that
// service's latency profile.
type httpResultStore struct {
	client  *http.Client
	baseURL string
}

// NewHTTPResultStore builds a ResultStore adapter over the shared HTTP
// client configured for the result store service.
func NewHTTPResultStore(cfg Config) ResultStore {
	return &httpResultStore{
		client:  sharedhttp.NewClient(sharedhttp.ResultStoreClientConfig()),
		baseURL: cfg.ResultStoreURL,
	}
}

func (s *httpResultStore) Put(ctx context.Context, key string, payload []byte) (string, error) {
	url := fmt.Sprintf("%s/objects/%s", s.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build result store put request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("put result store object: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("result store put returned status %d", resp.StatusCode)
	}
	return url, nil
}

func (s *httpResultStore) Get(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build result store get request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get result store object: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("result store get returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
