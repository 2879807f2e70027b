package vault

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/systmms/kvexport/internal/logging"
	"github.com/systmms/kvexport/internal/metrics"
	"github.com/systmms/kvexport/internal/secure"
)

const (
	DefaultTimeout = 30 * time.Second

	tokenHeader     = "X-Vault-Token"
	namespaceHeader = "X-Vault-Namespace"

	// maxErrorBody bounds how much of a failed response is kept in the error.
	maxErrorBody = 512
)

// Getter issues authenticated GET requests against the store's HTTP API.
// path is relative to the API root (no leading /v1/).
type Getter interface {
	Get(ctx context.Context, path string, list bool) ([]byte, error)
}

// ClientConfig holds connection settings for the store.
type ClientConfig struct {
	Address       string // server root, as in VAULT_ADDR
	Namespace     string // Vault Enterprise namespace, optional
	Timeout       time.Duration
	TLSSkipVerify bool
	CACert        string // path to a PEM CA bundle
}

// Client implements Getter over HTTP.
type Client struct {
	config  ClientConfig
	token   *secure.SecureBuffer
	http    *http.Client
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewClient creates a Client. The token buffer stays owned by the caller.
func NewClient(cfg ClientConfig, token *secure.SecureBuffer, logger *logging.Logger, m *metrics.Metrics) (*Client, error) {
	if token == nil {
		return nil, fmt.Errorf("vault client requires a token")
	}
	httpClient, err := NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(false, true)
	}

	return &Client{
		config:  cfg,
		token:   token,
		http:    httpClient,
		logger:  logger,
		metrics: m,
	}, nil
}

// NewHTTPClient creates an HTTP client with the configured timeout and TLS settings.
func NewHTTPClient(cfg ClientConfig) (*http.Client, error) {
	if _, err := APIRoot(cfg.Address); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg.TLSSkipVerify || cfg.CACert != "" {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // operator opt-in via VAULT_SKIP_VERIFY
			MinVersion:         tls.VersionTLS12,
		}

		if cfg.CACert != "" {
			pem, err := os.ReadFile(cfg.CACert)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate %s: %w", cfg.CACert, err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no PEM certificates found in %s", cfg.CACert)
			}
			tlsConfig.RootCAs = pool
		}

		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		client.Transport = transport
	}

	return client, nil
}

// APIRoot returns the versioned API root for a server address,
// e.g. https://vault:8200 -> https://vault:8200/v1.
func APIRoot(address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("store address is empty")
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid store address %q: %w", address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid store address %q: scheme must be http or https", address)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid store address %q: missing host", address)
	}
	return strings.TrimSuffix(address, "/") + "/v1", nil
}

// Get fetches path and returns the raw response body. Any non-2xx status
// is returned as a *RequestFailedError. There are no retries.
func (c *Client) Get(ctx context.Context, path string, list bool) ([]byte, error) {
	reqURL, err := c.url(path, list)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.do(ctx, reqURL)
	c.metrics.ObserveRequest(operation(path, list), time.Since(start), err)
	return body, err
}

func (c *Client) do(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &RequestFailedError{URL: reqURL, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	err = c.token.Use(func(token []byte) error {
		req.Header.Set(tokenHeader, string(token))
		return nil
	})
	if err != nil {
		return nil, &RequestFailedError{URL: reqURL, Err: err}
	}
	if c.config.Namespace != "" {
		req.Header.Set(namespaceHeader, c.config.Namespace)
	}

	c.logger.Debug("GET %s", reqURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RequestFailedError{URL: reqURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RequestFailedError{
			URL:        reqURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestFailedError{URL: reqURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return body, nil
}

func (c *Client) url(path string, list bool) (string, error) {
	root, err := APIRoot(c.config.Address)
	if err != nil {
		return "", err
	}

	u := root + "/" + escapePath(strings.TrimPrefix(path, "/"))
	if list {
		u += "?list=true"
	}
	return u, nil
}

// escapePath escapes each segment of a slash-separated key path,
// keeping separators (and any trailing separator) intact.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func operation(path string, list bool) string {
	switch {
	case strings.HasPrefix(path, mountsPath):
		return "probe"
	case list:
		return "list"
	default:
		return "read"
	}
}
