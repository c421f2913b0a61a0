package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/jrsteele09/hms-console/apiclient"
	"github.com/jrsteele09/hms-console/authapi"
	"github.com/jrsteele09/hms-console/internal/config"
	"github.com/jrsteele09/hms-console/session"
	"github.com/jrsteele09/hms-console/tokenstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const httpTimeout = 30 * time.Second

// console is one wired session: store, API client and session manager
type console struct {
	api      *apiclient.Client
	tokens   *tokenstore.Tokens
	manager  *session.Manager
	registry *prometheus.Registry
	closers  []func() error
}

func newConsole(cfg config.Config, options ...session.ManagerOption) (*console, error) {
	c := &console{registry: prometheus.NewRegistry()}

	store, err := c.openStore(cfg)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	mirror, err := tokenstore.NewCookieMirror(jar, cfg.GetAPIURL())
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	c.tokens = tokenstore.NewTokens(store, mirror)

	c.api = apiclient.New(cfg.GetAPIURL(),
		apiclient.WithHTTPClient(&http.Client{Jar: jar, Timeout: httpTimeout}),
		apiclient.WithUserAgent(cfg.GetAppName()),
	)

	options = append([]session.ManagerOption{
		session.WithRefreshTimeout(cfg.GetRefreshTimeout()),
		session.WithMetrics(session.NewMetrics(c.registry)),
	}, options...)
	c.manager, err = session.NewManager(authapi.New(c.api), c.tokens, options...)
	if err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (c *console) openStore(cfg config.Config) (tokenstore.Store, error) {
	switch kind := cfg.GetStoreKind(); kind {
	case config.StoreKindMemory:
		return tokenstore.NewMemoryStore(), nil
	case config.StoreKindFile:
		return tokenstore.NewFileStore(cfg.GetStoreDir())
	case config.StoreKindRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		})
		c.closers = append(c.closers, client.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			c.close()
			return nil, fmt.Errorf("redis %s: %w", cfg.GetRedisAddr(), err)
		}
		return tokenstore.NewRedisStore(client, cfg.GetClientID()), nil
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

func (c *console) close() {
	if c.manager != nil {
		c.manager.Close()
	}
	for _, closer := range c.closers {
		if err := closer(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
}
