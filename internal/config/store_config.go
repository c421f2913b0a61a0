package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	storeKindKey     = "store"
	storeDirKey      = "store_dir"
	redisAddrKey     = "redis_addr"
	redisPasswordKey = "redis_password"
	redisDBKey       = "redis_db"
	clientIDKey      = "client_id"
)

const (
	StoreKindFile   = "file"
	StoreKindMemory = "memory"
	StoreKindRedis  = "redis"
)

type StoreConfig interface {
	GetStoreKind() string
	GetStoreDir() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetClientID() string
}

type Store struct {
	v *viper.Viper
}

var _ StoreConfig = Store{}

func (s Store) GetStoreKind() string {
	return s.v.GetString(storeKindKey)
}

func (s Store) GetStoreDir() string {
	return s.v.GetString(storeDirKey)
}

func (s Store) GetRedisAddr() string {
	return s.v.GetString(redisAddrKey)
}

func (s Store) GetRedisPassword() string {
	return s.v.GetString(redisPasswordKey)
}

func (s Store) GetRedisDB() int {
	return s.v.GetInt(redisDBKey)
}

// GetClientID scopes shared stores (redis) to one console installation
func (s Store) GetClientID() string {
	return s.v.GetString(clientIDKey)
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hms-console"
	}
	return filepath.Join(home, ".hms-console")
}
