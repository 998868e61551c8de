package main

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/cache"
	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/config"
	"github.com/effective-security/sdragent/engine"
	"github.com/effective-security/sdragent/eventsource"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/sdragent/persistence"
	"github.com/effective-security/sdragent/secrets"
	"github.com/effective-security/sdragent/servers"
	"github.com/effective-security/sdragent/session"
	"github.com/effective-security/sdragent/storage"
	"github.com/effective-security/sdragent/tools"
	"github.com/effective-security/sdragent/tools/sdr"
	"github.com/effective-security/sdragent/tools/tavily"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components, closed in reverse order
type app struct {
	cfg      *config.Config
	resolver secrets.Resolver
	cache    cache.Cache
	sessions session.Store
	store    storage.Storage
	gateway  *gateway.Gateway
	servers  *servers.Service
	local    []tools.ITool
	catalog  *catalog.Federator
	engine   *engine.Engine

	closers []io.Closer
}

// wireApp builds the components from the configuration.
// External servers are not connected, see connectServers.
func wireApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	var err error

	if a.resolver, err = newResolver(cfg.Secrets); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		if rdb, err = newRedisClient(ctx, cfg.Redis, a.resolver); err != nil {
			return err
		}
		a.closers = append(a.closers, rdb)
	}

	if cfg.Cache.Backend == config.BackendRedis {
		a.cache = cache.NewRedis(rdb, cfg.Redis.Prefix)
	} else {
		mc := cache.NewMemory(cache.WithSweepInterval(cfg.Cache.SweepInterval))
		mc.Start()
		a.closers = append(a.closers, mc)
		a.cache = mc
	}

	if cfg.Sessions.Backend == config.BackendRedis {
		a.sessions = session.NewRedis(rdb, cfg.Redis.Prefix, cfg.Sessions.TTL)
	} else {
		a.sessions = session.NewMemory()
	}
	janitor := session.NewJanitor(a.sessions, cfg.Sessions.IdleTimeout, cfg.Sessions.EvictInterval)
	janitor.Start()
	a.closers = append(a.closers, janitor)

	db, err := storage.Open(ctx, cfg.Storage.Dialect, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db)
	a.store = db

	a.gateway = gateway.New(a.resolver, gateway.WithImplementation(appName, version))
	a.closers = append(a.closers, a.gateway)
	a.servers = servers.New(a.store, a.gateway)

	a.local = []tools.ITool{
		sdr.NewAnalyzeProfile(a.cache, cfg.Cache.AnalysisTTL),
		sdr.NewLookupRanking(a.store),
	}
	research, err := tavily.New(ctx, a.resolver, tavily.WithCache(a.cache, cfg.Cache.ResearchTTL))
	switch {
	case err == nil:
		a.local = append(a.local, research)
	case errors.Is(err, secrets.ErrNotFound):
		logger.ContextKV(ctx, xlog.INFO, "status", "skipped", "tool", tavily.ToolName, "reason", "no_api_key")
	default:
		return err
	}
	a.catalog = catalog.NewFederator(a.gateway, a.local...)

	system, err := cfg.SystemTemplate()
	if err != nil {
		return err
	}
	source := eventsource.NewAnthropic(
		eventsource.WithBaseURL(cfg.Model.BaseURL),
		eventsource.WithMaxTokens(cfg.Model.MaxTokens),
	)
	a.engine = engine.New(a.sessions, a.catalog, source,
		engine.WithDefaultModel(cfg.Model.Name),
		engine.WithSystemTemplate(system),
		engine.WithMaxTurns(cfg.Model.MaxTurns),
		engine.WithTurnTimeout(cfg.Model.TurnTimeout),
		engine.WithSecrets(a.resolver),
		engine.WithPersister(persistence.NewBridge(a.store)),
	)
	return nil
}

// connectServers registers the configured servers that are not stored yet,
// and connects all enabled servers
func (a *app) connectServers(ctx context.Context) error {
	for _, d := range a.cfg.Servers {
		_, err := a.servers.Create(ctx, d)
		if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return errors.WithMessagef(err, "failed to register server %s", d.ID)
		}
	}
	return a.servers.ConnectEnabled(ctx)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.KV(xlog.ERROR, "reason", "close", "err", err.Error())
		}
	}
	a.closers = nil
}

// newResolver returns the secret chain: the environment first, then the dotenv file
func newResolver(cfg config.SecretsConfig) (secrets.Resolver, error) {
	list := []secrets.Resolver{secrets.NewEnv(cfg.EnvPrefix)}
	if cfg.DotEnv != "" {
		dotenv, err := secrets.LoadDotEnv(cfg.DotEnv)
		if err != nil {
			return nil, err
		}
		list = append(list, dotenv)
	}
	return secrets.NewChain(list...), nil
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig, resolver secrets.Resolver) (*redis.Client, error) {
	opts := &redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	}
	if cfg.PasswordSecret != "" {
		pwd, err := resolver.Resolve(ctx, cfg.PasswordSecret)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to resolve redis password")
		}
		opts.Password = pwd
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis %s", cfg.Addr)
	}
	return client, nil
}
