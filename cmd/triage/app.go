// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/bcem/triage/internal/api"
	"github.com/bcem/triage/internal/cache"
	"github.com/bcem/triage/internal/classify"
	"github.com/bcem/triage/internal/config"
	"github.com/bcem/triage/internal/store"
	"github.com/bcem/triage/internal/tracehttp"
	"github.com/bcem/triage/internal/transport"
)

// app holds the collaborators built from configuration. Redis and
// Postgres are optional: nil when not configured.
type app struct {
	cfg        *config.Config
	httpClient *http.Client

	rdb   *redis.Client
	cache *cache.RedisInvalidator

	pool  *pgxpool.Pool
	store *store.Store
}

type appOptions struct {
	trace     bool
	needRedis bool
	needStore bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	slog.Debug("configuration loaded",
		"api_base_url", cfg.APIBaseURL,
		"redis", cfg.RedisURL != "",
		"database", cfg.DatabaseURL != "",
		"stale_tag", cfg.StaleTag,
	)

	a := &app{cfg: cfg, httpClient: newHTTPClient(ctx, cfg.APIToken, opts.trace)}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(opt)
		a.cache = cache.NewRedisInvalidator(a.rdb, cfg.RedisChannel)
		if err := a.cache.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
		slog.Debug("connected to Redis")
	} else if opts.needRedis {
		return nil, errors.New("REDIS_URL is not configured")
	}

	if cfg.DatabaseURL != "" {
		a.pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create Postgres pool: %w", err)
		}
		if err := a.pool.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		a.store, err = store.New(ctx, a.pool)
		if err != nil {
			a.Close()
			return nil, err
		}
	} else if opts.needStore {
		a.Close()
		return nil, errors.New("DATABASE_URL is not configured")
	}

	return a, nil
}

// newHTTPClient returns the API client. With a token every request carries
// it as a bearer credential. The client has no Timeout: streams are bounded
// by their context instead.
func newHTTPClient(ctx context.Context, token string, trace bool) *http.Client {
	base := &http.Client{}
	if trace {
		base.Transport = tracehttp.Wrap(nil, slog.Default())
	}
	if token == "" {
		return base
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}

// invalidator returns the cache collaborator for finished results.
func (a *app) invalidator() classify.Invalidator {
	if a.cache == nil {
		return cache.Nop{}
	}
	return a.cache
}

func (a *app) transport() *transport.HTTPTransport {
	return transport.New(transport.Config{
		HTTPClient: a.httpClient,
		BaseURL:    a.cfg.APIBaseURL,
	})
}

func (a *app) apiClient() *api.Client {
	return api.New(api.Config{
		HTTPClient: a.httpClient,
		BaseURL:    a.cfg.APIBaseURL,
		RateLimit:  a.cfg.RateLimit,
		Burst:      a.cfg.RateBurst,
	})
}
