// Package fetch talks to the remote update server: update checks, version
// listings, changelogs, and verified artifact downloads into the staging area.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/rollout/internal/config"
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrVersionNotFound  = errors.New("version not found on update server")
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")
)

const downloadChunkSize = 8 * 1024

// UpdateCheck is the update-availability descriptor returned by the server.
type UpdateCheck struct {
	UpdateAvailable bool   `json:"update_available"`
	LatestVersion   string `json:"latest_version"`
	Channel         string `json:"channel"`
	ReleaseDate     string `json:"release_date"`
}

// VersionInfo describes one version known to the update server. IsInstalled
// and IsCurrent are filled in locally, not by the server.
type VersionInfo struct {
	Version     string `json:"version"`
	Channel     string `json:"channel"`
	ReleaseDate string `json:"release_date"`
	SizeBytes   int64  `json:"size_bytes"`
	IsInstalled bool   `json:"is_installed"`
	IsCurrent   bool   `json:"is_current"`
}

// PackageInfo locates one downloadable artifact and its expected SHA-256.
type PackageInfo struct {
	DownloadURL string `json:"download_url"`
	Checksum    string `json:"checksum"`
}

// HTTPClient is the subset of http.Client the fetcher needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches metadata and artifacts from one update server.
type Client struct {
	serverURL string
	channel   string
	paths     config.Paths
	hc        HTTPClient
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// New creates a Client for the given server and release channel.
func New(serverURL, channel string, paths config.Paths, opts ...Option) *Client {
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		channel:   channel,
		paths:     paths,
		hc:        &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckUpdates asks the server whether anything newer than currentVersion is
// available on the configured channel.
func (c *Client) CheckUpdates(ctx context.Context, currentVersion string) (*UpdateCheck, error) {
	if currentVersion == "" {
		currentVersion = "0.0.0"
	}
	q := url.Values{"current_version": {currentVersion}, "channel": {c.channel}}
	var out UpdateCheck
	if err := c.getJSON(ctx, "/api/v1/updates?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AvailableVersions lists all versions published on the configured channel.
func (c *Client) AvailableVersions(ctx context.Context) ([]VersionInfo, error) {
	q := url.Values{"channel": {c.channel}}
	var out struct {
		Versions []VersionInfo `json:"versions"`
	}
	if err := c.getJSON(ctx, "/api/v1/versions?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// PackageInfo fetches the download location and expected checksum for version.
func (c *Client) PackageInfo(ctx context.Context, version string) (*PackageInfo, error) {
	var out PackageInfo
	if err := c.getJSON(ctx, "/api/v1/package/"+url.PathEscape(version), &out); err != nil {
		return nil, err
	}
	if out.DownloadURL == "" {
		return nil, fmt.Errorf("fetcher: no download URL for version %s", version)
	}
	return &out, nil
}

// Changelog fetches the plain-text changelog for version.
func (c *Client) Changelog(ctx context.Context, version string) (string, error) {
	resp, err := c.get(ctx, "/api/v1/changelog/"+url.PathEscape(version))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkStatus(resp, version); err != nil {
		return "", err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetcher: read changelog: %w", err)
	}
	return string(b), nil
}

// Download fetches the artifact for version into the staging area and
// verifies its SHA-256 against the server-declared checksum. The artifact is
// streamed in chunks and never held in memory at once. On any failure the
// staged file is removed and no path is returned.
func (c *Client) Download(ctx context.Context, version string) (string, error) {
	info, err := c.PackageInfo(ctx, version)
	if err != nil {
		return "", err
	}

	downloadURL := info.DownloadURL
	if !strings.HasPrefix(downloadURL, "http://") && !strings.HasPrefix(downloadURL, "https://") {
		downloadURL = c.serverURL + "/" + strings.TrimLeft(downloadURL, "/")
	}

	if err := os.MkdirAll(c.paths.DownloadsDir(), 0o755); err != nil {
		return "", fmt.Errorf("fetcher: create downloads dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetcher: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetcher: download %s: %w", version, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetcher: download %s: unexpected status %d", version, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.paths.DownloadsDir(), "download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("fetcher: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	hasher := sha256.New()
	buf := make([]byte, downloadChunkSize)
	if _, err := io.CopyBuffer(io.MultiWriter(tmp, hasher), resp.Body, buf); err != nil {
		return "", fmt.Errorf("fetcher: write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("fetcher: sync artifact: %w", err)
	}

	if info.Checksum != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if actual != strings.ToLower(strings.TrimSpace(info.Checksum)) {
			return "", fmt.Errorf("fetcher: version %s: got %s want %s: %w",
				version, actual, info.Checksum, ErrChecksumMismatch)
		}
	}

	finalPath := filepath.Join(c.paths.DownloadsDir(), fmt.Sprintf("rollout-%s.tar.gz", version))
	if err := os.Remove(finalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("fetcher: remove existing artifact: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("fetcher: finalize artifact: %w", err)
	}
	return finalPath, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: update server unreachable: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkStatus(resp, path); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fetcher: decode response: %w", err)
	}
	return nil
}

func (c *Client) checkStatus(resp *http.Response, subject string) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("fetcher: %s: %w", subject, ErrVersionNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("fetcher: %s: unexpected status %d", subject, resp.StatusCode)
	}
	return nil
}
