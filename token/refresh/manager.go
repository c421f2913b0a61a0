// Package refresh issues and rotates the opaque refresh tokens of the
// reference backend.
package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/hms-console/internal/errors"
)

// Config is the subset of server configuration the manager reads
type Config interface {
	GetRefreshTokenLength() int
	GetRefreshTokenTTL() time.Duration
}

// Manager handles refresh token creation, validation, and rotation
type Manager struct {
	repo    Repo
	config  Config
	nowFunc func() time.Time
}

type ManagerOption func(*Manager)

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(repo Repo, cfg Config, options ...ManagerOption) *Manager {
	m := &Manager{
		repo:    repo,
		config:  cfg,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Create generates a new refresh token for userID, replacing any existing one
func (m *Manager) Create(userID string) (string, error) {
	if existing, err := m.repo.GetByUserID(userID); err == nil && existing != nil {
		if err := m.repo.Delete(existing.Token); err != nil {
			return "", fmt.Errorf("failed to delete existing refresh token: %w", err)
		}
	}

	tokenBytes := make([]byte, m.config.GetRefreshTokenLength())
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	tokenStr := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(&StoredRefreshToken{
		Token:  tokenStr,
		UserID: userID,
		Iat:    m.nowFunc(),
	}); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return tokenStr, nil
}

// Rotate validates token, retires it and issues its replacement. It returns
// the owning user ID and the new token.
func (m *Manager) Rotate(token string) (string, string, error) {
	stored, err := m.repo.Get(token)
	if err != nil || stored == nil {
		return "", "", apperrors.ErrInvalidRefreshToken
	}
	if m.IsExpired(stored) {
		_ = m.repo.Delete(token)
		return "", "", apperrors.ErrRefreshTokenExpired
	}

	next, err := m.Create(stored.UserID)
	if err != nil {
		return "", "", err
	}
	return stored.UserID, next, nil
}

// RevokeUser removes the refresh token held by userID, if any
func (m *Manager) RevokeUser(userID string) error {
	existing, err := m.repo.GetByUserID(userID)
	if err != nil || existing == nil {
		return nil
	}
	return m.repo.Delete(existing.Token)
}

// IsExpired checks if a refresh token is older than the configured lifetime
func (m *Manager) IsExpired(rt *StoredRefreshToken) bool {
	return m.nowFunc().Sub(rt.Iat) > m.config.GetRefreshTokenTTL()
}
