package prism

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// APIVersion selects one of the REST surfaces.
type APIVersion int

const (
	V1 APIVersion = iota + 1
	V2
	V3
)

const (
	// DefaultPort is the Prism HTTPS port.
	DefaultPort = 9440

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 32 << 20
)

var apiPaths = map[APIVersion]string{
	V1: "/PrismGateway/services/rest/v1/",
	V2: "/api/nutanix/v2.0/",
	V3: "/api/nutanix/v3/",
}

// Config holds the cluster coordinates and credentials.
type Config struct {
	// Address is the cluster virtual IP or a CVM address.
	Address string

	// Port defaults to 9440.
	Port int

	Username string
	Password string

	// VerifyTLS enables certificate verification.
	VerifyTLS bool

	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration
}

// Recorder receives per-request measurements.
type Recorder interface {
	RecordAPICall(endpoint string, status int, duration time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBaseURL replaces the scheme://host:port root, e.g. for an httptest server.
func WithBaseURL(root string) Option {
	return func(c *Client) {
		c.root = strings.TrimSuffix(root, "/")
	}
}

// WithRecorder reports request timings and statuses to r.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// Client talks to a single cluster. It is owned by one run and is not shared.
type Client struct {
	config   Config
	root     string
	http     *http.Client
	recorder Recorder
	logger   zerolog.Logger
}

// NewClient creates a client for the cluster described by cfg.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("cluster address is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // clusters ship self-signed certificates
	}

	c := &Client{
		config: cfg,
		root:   fmt.Sprintf("https://%s:%d", cfg.Address, cfg.Port),
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: log.Logger.With().Str("component", "prism").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Address returns the cluster address the client targets.
func (c *Client) Address() string {
	return c.config.Address
}

// URL returns the absolute URL for path on the given API surface.
func (c *Client) URL(version APIVersion, path string) string {
	return c.root + apiPaths[version] + strings.TrimPrefix(path, "/")
}

// get issues a GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, op string, version APIVersion, path string, out any) (int, error) {
	return c.do(ctx, op, http.MethodGet, version, path, nil, out)
}

// post issues a POST with a JSON body and decodes the response into out.
func (c *Client) post(ctx context.Context, op string, version APIVersion, path string, body, out any) (int, error) {
	return c.do(ctx, op, http.MethodPost, version, path, body, out)
}

func (c *Client) do(ctx context.Context, op, method string, version APIVersion, path string, body, out any) (int, error) {
	url := c.URL(version, path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: failed to encode request body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(op, 0, time.Since(start))
		return 0, &TransportError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	duration := time.Since(start)
	c.record(op, resp.StatusCode, duration)
	if err != nil {
		return resp.StatusCode, &TransportError{Op: op, URL: url, Err: fmt.Errorf("reading body: %w", err)}
	}

	c.logger.Debug().
		Str("op", op).
		Str("method", method).
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("prism request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{
			Op:         op,
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       snippet(data),
		}
	}

	if out == nil {
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, &ParseError{Op: op, URL: url, Body: snippet(data), Err: err}
	}

	return resp.StatusCode, nil
}

func (c *Client) record(op string, status int, d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordAPICall(op, status, d)
	}
}
