package refresh

import (
	"time"
)

// StoredRefreshToken is the server-side record behind an opaque refresh
// token. The client only ever receives Token.
type StoredRefreshToken struct {
	Token  string
	UserID string
	Iat    time.Time
}

// Repo stores refresh token metadata keyed by the token string.
// Implementations keep at most one token per user.
type Repo interface {
	Upsert(refreshToken *StoredRefreshToken) error
	Delete(token string) error
	Get(token string) (*StoredRefreshToken, error)
	GetByUserID(userID string) (*StoredRefreshToken, error)
}
