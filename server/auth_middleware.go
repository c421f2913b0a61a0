package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/token"
	"github.com/jrsteele09/hms-console/tokenstore"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyClaims stores the verified access token claims
const ContextKeyClaims ContextKey = "claims"

// ClaimsFromContext returns the claims RequireAuth stored on the request
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*token.Claims)
	return claims, ok
}

// RequireAuth validates the access token from the Authorization header or,
// when there is none, from the hms_access_token cookie.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, err := accessTokenFromRequest(r)
			if err != nil {
				writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
				return
			}

			claims, err := s.issuer.Verify(r.Context(), raw)
			if err != nil {
				description := "invalid token"
				switch {
				case errors.Is(err, apperrors.ErrTokenExpired):
					description = "token expired"
				case errors.Is(err, apperrors.ErrTokenRevoked):
					description = "token revoked"
				case !errors.Is(err, apperrors.ErrInvalidToken):
					s.logger.Error().Err(err).Msg("token verification failed")
					writeJSONError(w, "server_error", "token verification unavailable", http.StatusInternalServerError)
					return
				}
				writeJSONError(w, "invalid_token", description, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

func accessTokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", errors.New("invalid Authorization header format")
		}
		if parts[1] == "" {
			return "", errors.New("empty token")
		}
		return parts[1], nil
	}

	if cookie, err := r.Cookie(tokenstore.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errors.New("missing access token")
}
