package users

type Repo interface {
	Upsert(account *Account) error
	Delete(email string) error
	GetByEmail(email string) (*Account, error)
	GetByID(id string) (*Account, error)
	List(offset, limit int) ([]*Account, error)
	SetBlocked(email string, blocked bool) error
}
