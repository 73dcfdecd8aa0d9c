package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PoolAdminClient calls a connection-pool admin sidecar (e.g. pgbouncer's
// admin API) over HTTP Basic auth.
type PoolAdminClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewPoolAdminClient creates a client with a 10-second timeout.
func NewPoolAdminClient(baseURL, username, password string) *PoolAdminClient {
	return &PoolAdminClient{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AddPool idempotently adds a pool for db with the given pool size. A 409
// response (already exists) is treated as success.
func (c *PoolAdminClient) AddPool(ctx context.Context, db string, poolSize int) error {
	body, err := json.Marshal(map[string]any{"database": db, "poolSize": poolSize})
	if err != nil {
		return fmt.Errorf("marshaling add-pool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pools", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building add-pool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling pool admin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("pool admin returned HTTP %d adding pool %s", resp.StatusCode, db)
	}
}

// RemovePool idempotently removes a pool. A 404 response is treated as
// success.
func (c *PoolAdminClient) RemovePool(ctx context.Context, db string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/pools/"+db, nil)
	if err != nil {
		return fmt.Errorf("building remove-pool request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling pool admin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("pool admin returned HTTP %d removing pool %s", resp.StatusCode, db)
	}
}

// PoolInfo describes a single active pool as reported by ListPools.
type PoolInfo struct {
	Database string `json:"database"`
	PoolSize int    `json:"poolSize"`
}

// ListPools returns the current set of pools known to the admin sidecar.
func (c *PoolAdminClient) ListPools(ctx context.Context) ([]PoolInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pools", nil)
	if err != nil {
		return nil, fmt.Errorf("building list-pools request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling pool admin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pool admin returned HTTP %d listing pools", resp.StatusCode)
	}

	var pools []PoolInfo
	if err := json.NewDecoder(resp.Body).Decode(&pools); err != nil {
		return nil, fmt.Errorf("decoding pool list: %w", err)
	}
	return pools, nil
}
