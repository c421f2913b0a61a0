package fakeuserrepo

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/users"
)

var _ users.Repo = (*FakeUserRepo)(nil)

// ErrNotFound is returned for unknown emails and IDs
var ErrNotFound = apperrors.ErrNotFound

type FakeUserRepo struct {
	accounts map[string]*users.Account
	emailIds map[string]string // email to account id
	lock     sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		accounts: make(map[string]*users.Account),
		emailIds: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Upsert(account *users.Account) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	ur.accounts[account.ID] = account
	ur.emailIds[normalizeEmail(account.Email)] = account.ID
	return nil
}

func (ur *FakeUserRepo) Delete(email string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	email = normalizeEmail(email)
	id, ok := ur.emailIds[email]
	if !ok {
		return ErrNotFound
	}
	delete(ur.emailIds, email)
	delete(ur.accounts, id)
	return nil
}

func (ur *FakeUserRepo) GetByEmail(email string) (*users.Account, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.emailIds[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return ur.accounts[id], nil
}

func (ur *FakeUserRepo) GetByID(id string) (*users.Account, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	account, ok := ur.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return account, nil
}

func (ur *FakeUserRepo) List(offset, limit int) ([]*users.Account, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	list := make([]*users.Account, 0, len(ur.accounts))
	for _, v := range ur.accounts {
		list = append(list, v)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Email < list[j].Email
	})

	if offset >= len(list) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(list) {
		end = len(list)
	}
	return list[offset:end], nil
}

func (ur *FakeUserRepo) SetBlocked(email string, blocked bool) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	id, ok := ur.emailIds[normalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	ur.accounts[id].Blocked = blocked
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
