package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jrsteele09/hms-console/authapi"
	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/internal/utils"
	"github.com/jrsteele09/hms-console/users"
)

const (
	contentTypeJSON = "application/json"
	maxBodyBytes    = 64 * 1024
)

// Login exchanges staff credentials for an access/refresh token pair
func (s *Server) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authapi.LoginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, "invalid_request", "malformed request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Email) == "" || req.Password == "" {
			writeJSONError(w, "invalid_request", "email and password are required", http.StatusBadRequest)
			return
		}

		account, err := s.repos.Users.GetByEmail(req.Email)
		if err != nil || !users.CheckPasswordHash(req.Password, account.PasswordHash) {
			s.logger.Info().Str("email", req.Email).Msg("rejected login")
			writeJSONError(w, "invalid_credentials", "invalid email or password", http.StatusUnauthorized)
			return
		}
		if account.Blocked {
			writeJSONError(w, "account_blocked", "account is blocked", http.StatusForbidden)
			return
		}
		if account.RequiresOTP() && req.OTPCode != account.OTPCode {
			writeJSONError(w, authapi.CodeOTPRequired, "a valid one-time password is required", http.StatusUnauthorized)
			return
		}

		s.issueTokens(w, &account.Profile)
	}
}

// Refresh rotates a refresh token and issues a new access token
func (s *Server) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authapi.RefreshRequest
		if err := decodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
			writeJSONError(w, "invalid_request", "refresh_token is required", http.StatusBadRequest)
			return
		}

		userID, next, err := s.refresh.Rotate(req.RefreshToken)
		if err != nil {
			writeJSONError(w, "invalid_grant", err.Error(), http.StatusUnauthorized)
			return
		}

		account, err := s.repos.Users.GetByID(userID)
		if err != nil || account.Blocked {
			_ = s.refresh.RevokeUser(userID)
			writeJSONError(w, "invalid_grant", "account unavailable", http.StatusUnauthorized)
			return
		}

		at, err := s.issuer.Issue(&account.Profile)
		if err != nil {
			s.logger.Error().Err(err).Msg("issue access token")
			writeJSONError(w, "server_error", "failed to issue token", http.StatusInternalServerError)
			return
		}
		s.writeTokens(w, at.Raw, next, at.ExpiresIn(s.nowFunc()))
	}
}

// Me returns the profile of the authenticated user
func (s *Server) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "missing claims", http.StatusUnauthorized)
			return
		}

		account, err := s.repos.Users.GetByID(claims.Subject)
		if err != nil {
			writeJSONError(w, "invalid_token", "unknown user", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, account.Profile)
	}
}

// Logout revokes the presented access token and the user's refresh token
func (s *Server) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, "unauthorized", "missing claims", http.StatusUnauthorized)
			return
		}

		if err := s.issuer.Revoke(r.Context(), claims); err != nil {
			s.logger.Error().Err(err).Msg("revoke access token")
			writeJSONError(w, "server_error", "failed to revoke token", http.StatusInternalServerError)
			return
		}
		if err := s.refresh.RevokeUser(claims.Subject); err != nil {
			s.logger.Warn().Err(err).Str("user", claims.Subject).Msg("revoke refresh token")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": s.hub.ClientCount(),
		})
	}
}

func (s *Server) issueTokens(w http.ResponseWriter, profile *users.Profile) {
	at, err := s.issuer.Issue(profile)
	if err != nil {
		s.logger.Error().Err(err).Msg("issue access token")
		writeJSONError(w, "server_error", "failed to issue token", http.StatusInternalServerError)
		return
	}
	rt, err := s.refresh.Create(profile.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("create refresh token")
		writeJSONError(w, "server_error", "failed to issue token", http.StatusInternalServerError)
		return
	}
	s.logger.Info().Str("user", profile.Email).Msg("login")
	s.writeTokens(w, at.Raw, rt, at.ExpiresIn(s.nowFunc()))
}

func (s *Server) writeTokens(w http.ResponseWriter, accessToken, refreshToken string, expiresIn int) {
	writeJSON(w, http.StatusOK, authapi.TokenResponse{
		AccessToken:  utils.Ptr(accessToken),
		RefreshToken: utils.Ptr(refreshToken),
		ExpiresIn:    expiresIn,
		TokenType:    "Bearer",
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrapf(err, "decode request")
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an {"error","error_description"} response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
