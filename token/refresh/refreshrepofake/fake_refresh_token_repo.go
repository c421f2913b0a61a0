package refreshrepofake

import (
	"sync"

	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/token/refresh"
)

var _ refresh.Repo = (*FakeRefreshTokenRepo)(nil)

type FakeRefreshTokenRepo struct {
	tokens  map[string]*refresh.StoredRefreshToken
	userIDs map[string]string // user ID to token
	lock    sync.RWMutex
}

func NewFakeRefreshTokenRepo() *FakeRefreshTokenRepo {
	return &FakeRefreshTokenRepo{
		tokens:  make(map[string]*refresh.StoredRefreshToken),
		userIDs: make(map[string]string),
	}
}

func (tr *FakeRefreshTokenRepo) Upsert(refreshToken *refresh.StoredRefreshToken) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()

	if old, ok := tr.userIDs[refreshToken.UserID]; ok && old != refreshToken.Token {
		delete(tr.tokens, old)
	}
	tr.tokens[refreshToken.Token] = refreshToken
	tr.userIDs[refreshToken.UserID] = refreshToken.Token
	return nil
}

func (tr *FakeRefreshTokenRepo) Delete(token string) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()

	rt, ok := tr.tokens[token]
	if !ok {
		return apperrors.ErrNotFound
	}
	if tr.userIDs[rt.UserID] == token {
		delete(tr.userIDs, rt.UserID)
	}
	delete(tr.tokens, token)
	return nil
}

func (tr *FakeRefreshTokenRepo) Get(token string) (*refresh.StoredRefreshToken, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	rt, ok := tr.tokens[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return rt, nil
}

func (tr *FakeRefreshTokenRepo) GetByUserID(userID string) (*refresh.StoredRefreshToken, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	token, ok := tr.userIDs[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return tr.tokens[token], nil
}

func (tr *FakeRefreshTokenRepo) Len() int {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	return len(tr.tokens)
}
