// Package apiclient issues JSON requests to the hospital backend and
// translates HTTP failures into the console's error taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	HeaderRequestID = "X-Request-ID"

	maxResponseBytes = 1 << 20
	defaultTimeout   = 30 * time.Second
)

// Client is an HTTP client bound to one backend base URL. A Client returned
// by WithTokenSource attaches "Authorization: Bearer <token>" to every call;
// it never refreshes the token itself.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "hms-console",
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient exposes the underlying client, e.g. for its cookie jar
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// WithTokenSource returns a copy of c that authenticates with ts.
func (c *Client) WithTokenSource(ts oauth2.TokenSource) *Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.httpClient
	hc.Transport = &oauth2.Transport{Source: ts, Base: base}

	cp := *c
	cp.httpClient = &hc
	return &cp
}

// errorBody is the backend's error document
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Do sends in (JSON encoded, when non-nil) to path and decodes a 2xx response
// body into out (when non-nil).
//
// Errors: transport failures wrap errors.ErrNetwork, non-2xx responses are
// *errors.BackendError, a missing session wraps errors.ErrNoSession.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("[apiclient] encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("[apiclient] build %s %s: %w", method, path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoSession) {
			return fmt.Errorf("%s %s: %w", method, path, apperrors.ErrNoSession)
		}
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Str("request_id", requestID).Msg("request failed")
		return fmt.Errorf("%w: %s %s: %w", apperrors.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", apperrors.ErrNetwork, method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Dur("took", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb) // body is optional
		return apperrors.NewBackendError(resp.StatusCode, eb.Error, eb.ErrorDescription)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("[apiclient] decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}
