package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ensemble/internal/api"
)

// Client reads the status API of a running ensemble.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the dashboard at baseURL, for example
// http://127.0.0.1:8000.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) GetApplication(ctx context.Context) (api.ApplicationInfo, error) {
	var info api.ApplicationInfo
	err := c.get(ctx, "/api/v1/application", &info)
	return info, err
}

func (c *Client) ListServices(ctx context.Context) ([]api.ServiceInfo, error) {
	var services []api.ServiceInfo
	err := c.get(ctx, "/api/v1/services", &services)
	return services, err
}

func (c *Client) GetService(ctx context.Context, name string) (api.ServiceInfo, error) {
	var info api.ServiceInfo
	err := c.get(ctx, "/api/v1/services/"+name, &info)
	return info, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach ensemble at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Response
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("invalid response from %s: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &api.NotFoundError{Message: envelope.Error}
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s: %s", envelope.Message, envelope.Error)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
