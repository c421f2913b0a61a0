// Package authapi is the typed client for the backend's /auth endpoints.
package authapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/hms-console/apiclient"
	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/users"
	"golang.org/x/oauth2"
)

// Route path constants of the consumed contract
const (
	RouteLogin   = "/auth/login"
	RouteRefresh = "/auth/refresh"
	RouteMe      = "/auth/me"
	RouteLogout  = "/auth/logout"
)

// CodeOTPRequired is the "error" value the backend returns when an account
// needs a one-time password and none (or a wrong one) was sent.
const CodeOTPRequired = "otp_required"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OTPCode  string `json:"otp_code,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Client calls the four auth endpoints.
type Client struct {
	api     *apiclient.Client
	nowFunc func() time.Time
}

type ClientOption func(*Client)

// WithNowFunc sets the clock used to compute token expiry (primarily for testing)
func WithNowFunc(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowFunc = now
	}
}

func New(api *apiclient.Client, options ...ClientOption) *Client {
	c := &Client{api: api, nowFunc: time.Now}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Login exchanges credentials for tokens.
// Rejected credentials wrap errors.ErrAuthentication; a missing or wrong OTP
// wraps errors.ErrOTPRequired.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*oauth2.Token, error) {
	var resp TokenResponse
	if err := c.api.Post(ctx, RouteLogin, req, &resp); err != nil {
		return nil, loginError(err)
	}
	tok, err := resp.Token(c.nowFunc())
	if err != nil {
		return nil, fmt.Errorf("[authapi Login] %w", err)
	}
	return tok, nil
}

// Refresh exchanges a refresh token for a new token pair. A rejected refresh
// token wraps errors.ErrSessionExpired.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var resp TokenResponse
	if err := c.api.Post(ctx, RouteRefresh, RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, refreshError(err)
	}
	tok, err := resp.Token(c.nowFunc())
	if err != nil {
		return nil, fmt.Errorf("[authapi Refresh] %w", err)
	}
	return tok, nil
}

// Me fetches the profile of the user ts authenticates.
func (c *Client) Me(ctx context.Context, ts oauth2.TokenSource) (*users.Profile, error) {
	var profile users.Profile
	if err := c.api.WithTokenSource(ts).Get(ctx, RouteMe, &profile); err != nil {
		return nil, fmt.Errorf("[authapi Me] %w", err)
	}
	return &profile, nil
}

// Logout asks the backend to revoke the session ts authenticates.
func (c *Client) Logout(ctx context.Context, ts oauth2.TokenSource) error {
	if err := c.api.WithTokenSource(ts).Post(ctx, RouteLogout, nil, nil); err != nil {
		return fmt.Errorf("[authapi Logout] %w", err)
	}
	return nil
}

func loginError(err error) error {
	var be *apperrors.BackendError
	if !apperrors.As(err, &be) {
		return fmt.Errorf("[authapi Login] %w", err)
	}
	if be.Code == CodeOTPRequired {
		return fmt.Errorf("%w: %w", apperrors.ErrOTPRequired, be)
	}
	switch be.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", apperrors.ErrAuthentication, be)
	}
	return fmt.Errorf("[authapi Login] %w", err)
}

func refreshError(err error) error {
	var be *apperrors.BackendError
	if apperrors.As(err, &be) {
		switch be.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, be)
		}
	}
	return fmt.Errorf("[authapi Refresh] %w", err)
}
