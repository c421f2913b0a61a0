package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/hms-console/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := config.NewFromViper(viper.New())

	require.Equal(t, "http://localhost:8080", c.GetAPIURL())
	require.Equal(t, "DEV", c.GetEnv())
	require.True(t, c.IsDev())
	require.Equal(t, config.StoreKindFile, c.GetStoreKind())
	require.Equal(t, 30*time.Second, c.GetRefreshTimeout())
	require.Equal(t, ":8080", c.GetPort())
	require.Equal(t, 15*time.Minute, c.GetAccessTokenTTL())
	require.Equal(t, 168*time.Hour, c.GetRefreshTokenTTL())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("http://localhost:3000"))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HMS_API_URL", "https://ehr.example.org/api/")
	t.Setenv("HMS_STORE", "redis")
	t.Setenv("HMS_REFRESH_TIMEOUT", "5s")
	t.Setenv("HMS_ENV", "prod")
	t.Setenv("HMS_ALLOWED_ORIGINS", "https://a.example.org, https://b.example.org")

	c := config.NewFromViper(viper.New())

	require.Equal(t, "https://ehr.example.org/api", c.GetAPIURL())
	require.Equal(t, config.StoreKindRedis, c.GetStoreKind())
	require.Equal(t, 5*time.Second, c.GetRefreshTimeout())
	require.False(t, c.IsDev())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("https://b.example.org"))
	require.False(t, c.GetAllowedOrigins().IsAllowedOrigin("http://localhost:3000"))
}

func TestExplicitValuesBeatEnvironment(t *testing.T) {
	t.Setenv("HMS_PORT", "9000")

	v := viper.New()
	v.Set("port", ":7000")
	c := config.NewFromViper(v)

	require.Equal(t, ":7000", c.GetPort())
}
