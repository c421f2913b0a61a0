package tokenstore_test

import (
	"context"
	"errors"
	"net/http/cookiejar"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/jrsteele09/hms-console/tokenstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testRecord() tokenstore.Record {
	return tokenstore.Record{
		AccessToken:       "access-1",
		AccessTokenExpiry: time.UnixMilli(1_760_000_000_123),
		RefreshToken:      "refresh-1",
	}
}

// storeContract runs the behaviour every Store must share
func storeContract(t *testing.T, store tokenstore.Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, tokenstore.KeyAccessToken, "abc"))
	v, ok, err := store.Get(ctx, tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", v)

	require.NoError(t, store.Set(ctx, tokenstore.KeyAccessToken, "def"))
	v, _, err = store.Get(ctx, tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "def", v)

	require.NoError(t, store.Delete(ctx, tokenstore.KeyAccessToken))
	require.NoError(t, store.Delete(ctx, tokenstore.KeyAccessToken), "deleting a missing key is not an error")
	_, ok, err = store.Get(ctx, tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	tokens := tokenstore.NewTokens(store, nil)
	require.NoError(t, tokens.Save(ctx, testRecord(), time.Hour))
	rec, err := tokens.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, testRecord().AccessToken, rec.AccessToken)
	require.Equal(t, testRecord().RefreshToken, rec.RefreshToken)
	require.True(t, testRecord().AccessTokenExpiry.Equal(rec.AccessTokenExpiry))

	require.NoError(t, tokens.Clear(ctx))
	rec, err = tokens.Load(ctx)
	require.NoError(t, err)
	require.True(t, rec.IsEmpty())
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, tokenstore.NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := tokenstore.NewFileStore(dir)
	require.NoError(t, err)

	storeContract(t, store)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := tokenstore.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, tokenstore.NewTokens(first, nil).Save(ctx, testRecord(), time.Hour))

	info, err := os.Stat(first.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := tokenstore.NewFileStore(dir)
	require.NoError(t, err)
	rec, err := tokenstore.NewTokens(second, nil).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", rec.AccessToken)
	require.Equal(t, "refresh-1", rec.RefreshToken)
}

func TestFileStore_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	store, err := tokenstore.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))

	_, _, err = store.Get(context.Background(), tokenstore.KeyRefreshToken)
	require.ErrorContains(t, err, "decode")
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("HMS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HMS_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	storeContract(t, tokenstore.NewRedisStore(client, "test-"+t.Name()))
}

func TestTokens_UnreadableExpiryIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, tokenstore.KeyAccessTokenExpiry, "tomorrow"))

	expiry, err := tokenstore.NewTokens(store, nil).AccessTokenExpiry(ctx)
	require.NoError(t, err)
	require.True(t, expiry.IsZero())
}

func TestTokens_SaveWithoutRefreshTokenDeletesOldOne(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	tokens := tokenstore.NewTokens(store, nil)
	require.NoError(t, tokens.Save(ctx, testRecord(), time.Hour))

	rec := testRecord()
	rec.RefreshToken = ""
	require.NoError(t, tokens.Save(ctx, rec, time.Hour))

	_, ok, err := store.Get(ctx, tokenstore.KeyRefreshToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecord_HasValidAccessToken(t *testing.T) {
	now := time.Now()
	rec := tokenstore.Record{AccessToken: "a", AccessTokenExpiry: now.Add(time.Minute)}

	require.True(t, rec.HasValidAccessToken(now))
	require.False(t, rec.HasValidAccessToken(now.Add(time.Minute)))
	require.False(t, tokenstore.Record{AccessToken: "a"}.HasValidAccessToken(now))
}

// flakyStore fails deletes of one key but still applies the others
type flakyStore struct {
	*tokenstore.MemoryStore
	failKey tokenstore.Key
}

func (f *flakyStore) Delete(ctx context.Context, key tokenstore.Key) error {
	if key == f.failKey {
		return errors.New("disk on fire")
	}
	return f.MemoryStore.Delete(ctx, key)
}

func TestTokens_ClearAttemptsEveryKey(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: tokenstore.NewMemoryStore(), failKey: tokenstore.KeyAccessToken}
	tokens := tokenstore.NewTokens(store, nil)
	require.NoError(t, tokens.Save(ctx, testRecord(), time.Hour))

	err := tokens.Clear(ctx)
	require.ErrorContains(t, err, "disk on fire")

	_, ok, _ := store.Get(ctx, tokenstore.KeyRefreshToken)
	require.False(t, ok)
	_, ok, _ = store.Get(ctx, tokenstore.KeyAccessTokenExpiry)
	require.False(t, ok)
}

func TestCookieMirror(t *testing.T) {
	ctx := context.Background()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	mirror, err := tokenstore.NewCookieMirror(jar, "http://127.0.0.1:8080")
	require.NoError(t, err)
	u, _ := url.Parse("http://127.0.0.1:8080/auth/me")

	tokens := tokenstore.NewTokens(tokenstore.NewMemoryStore(), mirror)
	require.NoError(t, tokens.Save(ctx, testRecord(), 30*time.Minute))

	cookies := jar.Cookies(u)
	require.Len(t, cookies, 1)
	require.Equal(t, tokenstore.CookieName, cookies[0].Name)
	require.Equal(t, "access-1", cookies[0].Value)

	require.NoError(t, tokens.Clear(ctx))
	require.Empty(t, jar.Cookies(u))
}

func TestClampCookieMaxAge(t *testing.T) {
	require.Equal(t, 60*time.Second, tokenstore.ClampCookieMaxAge(5*time.Second))
	require.Equal(t, 1800*time.Second, tokenstore.ClampCookieMaxAge(1800*time.Second))
	require.Equal(t, 86400*time.Second, tokenstore.ClampCookieMaxAge(30*24*time.Hour))

	c := tokenstore.AccessTokenCookie("tok", 10*time.Second, true)
	require.Equal(t, 60, c.MaxAge)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
}

func TestTokens_FieldAccessors(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	tokens := tokenstore.NewTokens(store, nil)
	expiry := time.UnixMilli(1_760_000_000_500)

	require.NoError(t, tokens.SetAccessToken(ctx, "a"))
	require.NoError(t, tokens.SetAccessTokenExpiry(ctx, expiry))
	require.NoError(t, tokens.SetRefreshToken(ctx, "r"))

	rec, err := tokens.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", rec.AccessToken)
	require.True(t, expiry.Equal(rec.AccessTokenExpiry))
	require.Equal(t, "r", rec.RefreshToken)

	raw, ok, err := store.Get(ctx, tokenstore.KeyAccessTokenExpiry)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1760000000500", raw)

	require.NoError(t, tokens.ClearAccessToken(ctx))
	require.NoError(t, tokens.ClearAccessTokenExpiry(ctx))
	require.NoError(t, tokens.ClearRefreshToken(ctx))
	require.Zero(t, store.Len())
}
