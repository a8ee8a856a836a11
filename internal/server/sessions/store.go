// Package sessions persists the per-session orphan ledgers and carries the
// browser session id through HTTP requests.
//
// Every backend implements ledger.Store: Load returns a copy of the stored
// list and Update is an atomic read-modify-write per session.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/dbx"
	"github.com/dmitrijs2005/asyncupload/internal/filex"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/dmitrijs2005/asyncupload/internal/server/config"
)

// Store is a ledger store that holds resources.
type Store interface {
	Load(ctx context.Context, sid string) ([]string, error)
	Update(ctx context.Context, sid string, fn func([]string) ([]string, error)) error
	Close() error
}

// maxUpdateRetries bounds optimistic retries of the SQL and Redis backends.
const maxUpdateRetries = 8

const (
	defaultBoltPath   = "./data/ledgers.db"
	defaultSQLitePath = "./data/ledgers.sqlite"
	defaultRedisURL   = "redis://127.0.0.1:6379/0"
)

// New opens the backend named by cfg.SessionBackend.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (Store, error) {
	dsn := cfg.SessionDSN

	switch cfg.SessionBackend {
	case "", "memory":
		return NewMemoryStore(cfg.SessionTTL), nil
	case "bolt":
		if dsn == "" {
			dsn = defaultBoltPath
		}
		if _, err := filex.EnsureDir(filepath.Dir(dsn)); err != nil {
			return nil, err
		}
		return NewBoltStore(dsn, logger)
	case "postgres":
		return OpenSQLStore(ctx, dbx.Postgres, dsn, logger)
	case "sqlite":
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		if _, err := filex.EnsureDir(filepath.Dir(dsn)); err != nil {
			return nil, err
		}
		return OpenSQLStore(ctx, dbx.SQLite, dsn, logger)
	case "redis":
		if dsn == "" {
			dsn = defaultRedisURL
		}
		return OpenRedisStore(ctx, dsn, cfg.SessionTTL, logger)
	default:
		return nil, fmt.Errorf("session backend %q: %w", cfg.SessionBackend, common.ErrUnsupportedBackend)
	}
}

func encodePaths(paths []string) ([]byte, error) {
	return json.Marshal(paths)
}

func decodePaths(b []byte) ([]string, error) {
	if len(b) == 0 {
		return []string{}, nil
	}
	var paths []string
	if err := json.Unmarshal(b, &paths); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}
