// Package tokenstore persists the console's session credentials across
// restarts: access token, access token expiry and refresh token.
package tokenstore

import (
	"context"
	"strconv"
	"time"

	apperrors "github.com/jrsteele09/hms-console/internal/errors"
)

// Key identifies one persisted session field.
type Key string

// Namespace prefixes every key written by the console.
const Namespace = "hms.auth."

const (
	KeyAccessToken       Key = Namespace + "access_token"
	KeyAccessTokenExpiry Key = Namespace + "access_token_expiry" // epoch milliseconds
	KeyRefreshToken      Key = Namespace + "refresh_token"
)

// Keys lists every session field in write order.
var Keys = []Key{KeyAccessToken, KeyAccessTokenExpiry, KeyRefreshToken}

// Store is durable key/value storage. No validation is performed and writes
// are visible to subsequent reads.
type Store interface {
	Get(ctx context.Context, key Key) (string, bool, error)
	Set(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, key Key) error
}

// Mirror is a derived sink kept in sync with the primary store. It is only
// ever written through Tokens.Save and Tokens.Clear.
type Mirror interface {
	Mirror(ctx context.Context, accessToken string, expiresIn time.Duration) error
	Clear(ctx context.Context) error
}

// Record is the persisted session.
type Record struct {
	AccessToken       string
	AccessTokenExpiry time.Time
	RefreshToken      string
}

// HasValidAccessToken reports whether the access token exists and has not expired at now.
func (r Record) HasValidAccessToken(now time.Time) bool {
	return r.AccessToken != "" && !r.AccessTokenExpiry.IsZero() && now.Before(r.AccessTokenExpiry)
}

func (r Record) IsEmpty() bool {
	return r.AccessToken == "" && r.RefreshToken == "" && r.AccessTokenExpiry.IsZero()
}

// Tokens is the typed view of a Store used by the session manager.
type Tokens struct {
	store  Store
	mirror Mirror
}

// NewTokens wraps store. mirror may be nil.
func NewTokens(store Store, mirror Mirror) *Tokens {
	return &Tokens{store: store, mirror: mirror}
}

func (t *Tokens) AccessToken(ctx context.Context) (string, error) {
	v, _, err := t.store.Get(ctx, KeyAccessToken)
	return v, err
}

// AccessTokenExpiry returns the stored expiry, or the zero time when it is
// absent or unreadable.
func (t *Tokens) AccessTokenExpiry(ctx context.Context) (time.Time, error) {
	v, ok, err := t.store.Get(ctx, KeyAccessTokenExpiry)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func (t *Tokens) RefreshToken(ctx context.Context) (string, error) {
	v, _, err := t.store.Get(ctx, KeyRefreshToken)
	return v, err
}

// SetAccessToken writes the access token only. The mirror is not touched.
func (t *Tokens) SetAccessToken(ctx context.Context, token string) error {
	return t.store.Set(ctx, KeyAccessToken, token)
}

func (t *Tokens) ClearAccessToken(ctx context.Context) error {
	return t.store.Delete(ctx, KeyAccessToken)
}

func (t *Tokens) SetAccessTokenExpiry(ctx context.Context, expiry time.Time) error {
	return t.store.Set(ctx, KeyAccessTokenExpiry, strconv.FormatInt(expiry.UnixMilli(), 10))
}

func (t *Tokens) ClearAccessTokenExpiry(ctx context.Context) error {
	return t.store.Delete(ctx, KeyAccessTokenExpiry)
}

func (t *Tokens) SetRefreshToken(ctx context.Context, token string) error {
	return t.store.Set(ctx, KeyRefreshToken, token)
}

func (t *Tokens) ClearRefreshToken(ctx context.Context) error {
	return t.store.Delete(ctx, KeyRefreshToken)
}

// Load reads all three fields.
func (t *Tokens) Load(ctx context.Context) (Record, error) {
	var (
		rec Record
		err error
	)
	if rec.AccessToken, err = t.AccessToken(ctx); err != nil {
		return Record{}, apperrors.Wrapf(err, "[tokenstore] read access token")
	}
	if rec.AccessTokenExpiry, err = t.AccessTokenExpiry(ctx); err != nil {
		return Record{}, apperrors.Wrapf(err, "[tokenstore] read access token expiry")
	}
	if rec.RefreshToken, err = t.RefreshToken(ctx); err != nil {
		return Record{}, apperrors.Wrapf(err, "[tokenstore] read refresh token")
	}
	return rec, nil
}

// Save overwrites all three fields and then the mirror. An empty refresh
// token in rec deletes the stored one.
func (t *Tokens) Save(ctx context.Context, rec Record, expiresIn time.Duration) error {
	if err := t.store.Set(ctx, KeyAccessToken, rec.AccessToken); err != nil {
		return apperrors.Wrapf(err, "[tokenstore] write access token")
	}
	if err := t.SetAccessTokenExpiry(ctx, rec.AccessTokenExpiry); err != nil {
		return apperrors.Wrapf(err, "[tokenstore] write access token expiry")
	}
	if rec.RefreshToken == "" {
		if err := t.store.Delete(ctx, KeyRefreshToken); err != nil {
			return apperrors.Wrapf(err, "[tokenstore] delete refresh token")
		}
	} else if err := t.store.Set(ctx, KeyRefreshToken, rec.RefreshToken); err != nil {
		return apperrors.Wrapf(err, "[tokenstore] write refresh token")
	}

	if t.mirror != nil {
		if err := t.mirror.Mirror(ctx, rec.AccessToken, expiresIn); err != nil {
			return apperrors.Wrapf(err, "[tokenstore] mirror access token")
		}
	}
	return nil
}

// Clear deletes every field and the mirror. Each delete is attempted even
// when an earlier one fails; the failures are joined.
func (t *Tokens) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range Keys {
		if err := t.store.Delete(ctx, key); err != nil {
			errs = append(errs, apperrors.Wrapf(err, "[tokenstore] delete %s", key))
		}
	}
	if t.mirror != nil {
		if err := t.mirror.Clear(ctx); err != nil {
			errs = append(errs, apperrors.Wrapf(err, "[tokenstore] clear mirror"))
		}
	}
	return apperrors.Join(errs...)
}
