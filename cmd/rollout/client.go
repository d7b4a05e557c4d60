package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// APIClient provides HTTP client functionality to communicate with a running
// rollout daemon.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the agent status payload.
func (c *APIClient) Status() (any, error) {
	return c.getJSON("/status")
}

// Check asks the daemon to query the update server.
func (c *APIClient) Check() (any, error) {
	return c.getJSON("/check")
}

// Versions lists versions published on the configured channel.
func (c *APIClient) Versions() (any, error) {
	return c.getJSON("/versions")
}

// Changelog fetches the plain-text changelog for a version.
func (c *APIClient) Changelog(version string) (string, error) {
	resp, err := c.client.Get(c.baseURL + "/changelog/" + url.PathEscape(version))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", c.decodeError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Update launches the full update pipeline for version; returns the task.
func (c *APIClient) Update(version string) (any, error) {
	return c.postJSON("/update", map[string]string{"version": version})
}

// Activate launches an activation of an installed version; returns the task.
func (c *APIClient) Activate(version string) (any, error) {
	return c.postJSON("/activate", map[string]string{"version": version})
}

// Rollback performs a synchronous rollback to version.
func (c *APIClient) Rollback(version string) (any, error) {
	return c.postJSON("/rollback", map[string]string{"version": version})
}

// Cleanup prunes old versions beyond keepCount.
func (c *APIClient) Cleanup(keepCount int) (any, error) {
	return c.postJSON("/cleanup", map[string]int{"keep_count": keepCount})
}

// Task polls one background task by id.
func (c *APIClient) Task(id string) (map[string]any, error) {
	v, err := c.getJSON("/tasks/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected task payload")
	}
	return m, nil
}

func (c *APIClient) getJSON(path string) (any, error) {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}
	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *APIClient) postJSON(path string, body any) (any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}
	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *APIClient) decodeError(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
