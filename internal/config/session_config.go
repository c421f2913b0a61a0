package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	refreshTimeoutKey  = "refresh_timeout"
	reconnectDelayKey  = "reconnect_delay"
	defaultRefreshWait = 30 * time.Second
)

type SessionConfig interface {
	GetRefreshTimeout() time.Duration
	GetReconnectDelay() time.Duration
}

type Session struct {
	v *viper.Viper
}

var _ SessionConfig = Session{}

// GetRefreshTimeout bounds a single silent refresh request
func (s Session) GetRefreshTimeout() time.Duration {
	d := s.v.GetDuration(refreshTimeoutKey)
	if d <= 0 {
		return defaultRefreshWait
	}
	return d
}

// GetReconnectDelay is the fixed wait between realtime reconnect attempts
func (s Session) GetReconnectDelay() time.Duration {
	d := s.v.GetDuration(reconnectDelayKey)
	if d <= 0 {
		return 3 * time.Second
	}
	return d
}
