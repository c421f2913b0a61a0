package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	portKey            = "port"
	jwtSecretKey       = "jwt_secret"
	issuerKey          = "issuer"
	accessTokenTTLKey  = "access_token_ttl"
	refreshTokenTTLKey = "refresh_token_ttl"
	allowedOriginsKey  = "allowed_origins"
)

// ServerConfig configures the reference backend started by `console serve-dev`
type ServerConfig interface {
	GetPort() string
	GetJWTSecret() []byte
	GetIssuer() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetRefreshTokenLength() int
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type Server struct {
	v *viper.Viper
}

var _ ServerConfig = Server{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

func (s Server) GetPort() string {
	port := s.v.GetString(portKey)
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (s Server) GetJWTSecret() []byte {
	return []byte(s.v.GetString(jwtSecretKey))
}

func (s Server) GetIssuer() string {
	return s.v.GetString(issuerKey)
}

func (s Server) GetAccessTokenTTL() time.Duration {
	return s.v.GetDuration(accessTokenTTLKey)
}

func (s Server) GetRefreshTokenTTL() time.Duration {
	return s.v.GetDuration(refreshTokenTTLKey)
}

func (Server) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

func (s Server) GetAllowedOrigins() AllowedOrigins {
	origins := AllowedOrigins{}
	for _, o := range strings.Split(s.v.GetString(allowedOriginsKey), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = nullValue{}
		}
	}
	return origins
}

func (Server) GetAllowedMethods() string {
	return "GET, POST, OPTIONS"
}

func (Server) GetAllowedHeaders() string {
	return "Content-Type, Authorization, X-Request-ID"
}
