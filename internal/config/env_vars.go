package config

import (
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "HMS"

	apiURLKey   = "api_url"
	appNameKey  = "app_name"
	envKey      = "env"
	logLevelKey = "log_level"
)

type EnvVars struct {
	v *viper.Viper
}

var _ EnvConfig = EnvVars{}

// GetAPIURL returns the base URL of the hospital backend, without a trailing slash
func (e EnvVars) GetAPIURL() string {
	return strings.TrimRight(e.v.GetString(apiURLKey), "/")
}

func (e EnvVars) GetAppName() string {
	return e.v.GetString(appNameKey)
}

func (e EnvVars) GetEnv() string {
	return strings.ToUpper(e.v.GetString(envKey))
}

func (e EnvVars) GetLogLevel() string {
	return strings.ToLower(e.v.GetString(logLevelKey))
}

func (e EnvVars) IsDev() bool {
	return e.GetEnv() == "DEV"
}
