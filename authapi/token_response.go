package authapi

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/hms-console/internal/utils"
	"golang.org/x/oauth2"
)

// TokenResponse is returned by POST /auth/login and POST /auth/refresh.
type TokenResponse struct {
	// AccessToken is the short-lived bearer credential.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken *string `json:"access_token,omitempty"`

	// RefreshToken obtains a new access token without re-entering credentials.
	// Rotates on each use.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// When absent the JWT "exp" claim of the access token is used instead.
	ExpiresIn int `json:"expires_in,omitempty"`

	// TokenType is always "Bearer" for this backend
	TokenType string `json:"token_type,omitempty"`
}

var errNoExpiry = errors.New("token response carries neither expires_in nor an exp claim")

// Token converts the response into an oauth2.Token whose Expiry is
// now + expires_in.
func (r *TokenResponse) Token(now time.Time) (*oauth2.Token, error) {
	access := utils.Value(r.AccessToken)
	if access == "" {
		return nil, errors.New("token response has no access_token")
	}

	var expiry time.Time
	if r.ExpiresIn > 0 {
		expiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	} else {
		exp, err := expiryFromJWT(access)
		if err != nil {
			return nil, err
		}
		expiry = exp
	}

	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    tokenType,
		RefreshToken: utils.Value(r.RefreshToken),
		Expiry:       expiry,
	}, nil
}

// expiryFromJWT reads the exp claim without verifying the signature; the
// client only needs it for scheduling, the backend still validates.
func expiryFromJWT(raw string) (time.Time, error) {
	token, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", errNoExpiry, err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errNoExpiry
	}
	return exp.Time, nil
}
