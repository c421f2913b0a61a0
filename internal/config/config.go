package config

import (
	"github.com/spf13/viper"
)

type Config interface {
	EnvConfig
	SessionConfig
	StoreConfig
	ServerConfig
}

type EnvConfig interface {
	GetAPIURL() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	IsDev() bool
}

type mainConfig struct {
	EnvVars
	Session
	Store
	Server
}

// New returns the configuration read from the environment (HMS_*) and,
// when present, a .env file in the working directory.
func New() Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // optional
	return NewFromViper(v)
}

// NewFromViper builds a Config over v. Flags bound to v take precedence over
// the environment, which takes precedence over defaults.
func NewFromViper(v *viper.Viper) Config {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	return mainConfig{
		EnvVars: EnvVars{v: v},
		Session: Session{v: v},
		Store:   Store{v: v},
		Server:  Server{v: v},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(apiURLKey, "http://localhost:8080")
	v.SetDefault(appNameKey, "HMS Console")
	v.SetDefault(envKey, "DEV")
	v.SetDefault(logLevelKey, "info")

	v.SetDefault(refreshTimeoutKey, "30s")
	v.SetDefault(reconnectDelayKey, "3s")

	v.SetDefault(storeKindKey, StoreKindFile)
	v.SetDefault(storeDirKey, defaultStoreDir())
	v.SetDefault(redisAddrKey, "localhost:6379")
	v.SetDefault(redisDBKey, 0)
	v.SetDefault(clientIDKey, "default")

	v.SetDefault(portKey, "8080")
	v.SetDefault(jwtSecretKey, "hms-dev-secret-change-me")
	v.SetDefault(issuerKey, "hms-dev")
	v.SetDefault(accessTokenTTLKey, "15m")
	v.SetDefault(refreshTokenTTLKey, "168h")
	v.SetDefault(allowedOriginsKey, "http://localhost:3000")
}
