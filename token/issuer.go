// Package token mints and verifies the access tokens handed out by the
// reference backend.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/internal/utils"
	"github.com/jrsteele09/hms-console/users"
)

// AccessToken is a freshly minted token.
type AccessToken struct {
	Raw    string
	JTI    string
	Expiry time.Time
}

// ExpiresIn is the lifetime remaining at now, in whole seconds.
func (t *AccessToken) ExpiresIn(now time.Time) int {
	return int(t.Expiry.Sub(now).Round(time.Second) / time.Second)
}

// Claims is the verified content of an access token.
type Claims struct {
	Subject   string
	Email     string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	JTI       string
}

// Issuer handles access token creation and verification
type Issuer struct {
	signer  Signer
	issuer  string
	ttl     time.Duration
	revoked RevokedTokenCache
	nowFunc func() time.Time
}

type IssuerOption func(*Issuer)

func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

// WithRevokedTokenCache makes Verify reject revoked tokens
func WithRevokedTokenCache(cache RevokedTokenCache) IssuerOption {
	return func(i *Issuer) {
		i.revoked = cache
	}
}

func NewIssuer(signer Signer, issuer string, ttl time.Duration, options ...IssuerOption) *Issuer {
	i := &Issuer{
		signer:  signer,
		issuer:  issuer,
		ttl:     ttl,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Issue creates an access token for profile
func (i *Issuer) Issue(profile *users.Profile) (*AccessToken, error) {
	now := i.nowFunc()
	expiry := now.Add(i.ttl)
	jti := uuid.New().String()

	claims := jwtlib.MapClaims{
		"iss":   i.issuer,
		"sub":   profile.ID,
		"email": profile.Email,
		"roles": profile.RoleStrings(),
		"iat":   now.Unix(),
		"exp":   expiry.Unix(),
		"jti":   jti,
	}

	raw, err := i.signer.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return &AccessToken{Raw: raw, JTI: jti, Expiry: time.Unix(expiry.Unix(), 0)}, nil
}

// Verify checks the signature, expiry, issuer and revocation status of raw
func (i *Issuer) Verify(ctx context.Context, raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.ErrInvalidToken
	}

	parsed, err := jwtlib.ParseWithClaims(raw, jwtlib.MapClaims{}, i.signer.GetVerificationKey,
		jwtlib.WithValidMethods([]string{i.signer.GetSigningMethod().Alg()}),
		jwtlib.WithIssuer(i.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(i.nowFunc),
	)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	mc, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	claims := &Claims{}
	claims.Subject, _ = mc["sub"].(string)
	claims.Email, _ = mc["email"].(string)
	claims.JTI, _ = mc["jti"].(string)
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if roles, ok := mc["roles"].([]any); ok {
		claims.Roles = utils.ToStringSlice(roles)
	}

	if claims.JTI != "" && i.revoked != nil {
		revoked, err := i.revoked.IsRevoked(ctx, claims.JTI)
		if err != nil {
			return nil, apperrors.Wrapf(err, "[Verify] revocation lookup")
		}
		if revoked {
			return nil, apperrors.ErrTokenRevoked
		}
	}
	return claims, nil
}

// Revoke blacklists a verified token until it would have expired anyway
func (i *Issuer) Revoke(ctx context.Context, claims *Claims) error {
	if i.revoked == nil || claims.JTI == "" {
		return nil
	}
	return i.revoked.Add(ctx, claims.JTI, claims.ExpiresAt)
}
