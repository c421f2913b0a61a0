package tokenstore

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

const (
	// CookieName is read by the backend's route guard.
	CookieName = "hms_access_token"

	MinCookieMaxAge = 60 * time.Second
	MaxCookieMaxAge = 86400 * time.Second
)

var _ Mirror = (*CookieMirror)(nil)

// CookieMirror mirrors the access token into a cookie jar for the API base
// URL so requests made with that jar pass cookie-based route guards.
type CookieMirror struct {
	jar     http.CookieJar
	baseURL *url.URL
}

func NewCookieMirror(jar http.CookieJar, baseURL string) (*CookieMirror, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &CookieMirror{jar: jar, baseURL: u}, nil
}

// ClampCookieMaxAge bounds expiresIn to [MinCookieMaxAge, MaxCookieMaxAge].
func ClampCookieMaxAge(expiresIn time.Duration) time.Duration {
	if expiresIn < MinCookieMaxAge {
		return MinCookieMaxAge
	}
	if expiresIn > MaxCookieMaxAge {
		return MaxCookieMaxAge
	}
	return expiresIn
}

// AccessTokenCookie builds the mirror cookie for accessToken.
func AccessTokenCookie(accessToken string, expiresIn time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    accessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ClampCookieMaxAge(expiresIn).Seconds()),
	}
}

func (c *CookieMirror) Mirror(_ context.Context, accessToken string, expiresIn time.Duration) error {
	c.jar.SetCookies(c.baseURL, []*http.Cookie{
		AccessTokenCookie(accessToken, expiresIn, c.baseURL.Scheme == "https"),
	})
	return nil
}

func (c *CookieMirror) Clear(_ context.Context) error {
	c.jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:   CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
	return nil
}
