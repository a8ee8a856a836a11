package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/dbx"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/dmitrijs2005/asyncupload/internal/server/migrations"
)

var gooseUpContext = goose.UpContext

// SQLStore keeps ledgers in the upload_ledgers table. Update is an optimistic
// compare-and-swap on the version column, retried a bounded number of times,
// so several server processes can share one database.
type SQLStore struct {
	db      *sql.DB
	conn    dbx.DBTX
	dialect dbx.Dialect
	logger  logging.Logger
}

// OpenSQLStore connects, applies migrations and returns the store.
func OpenSQLStore(ctx context.Context, dialect dbx.Dialect, dsn string, logger logging.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialect.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if dialect == dbx.SQLite {
		// one writer at a time; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}

	s := NewSQLStore(db, dialect, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLStore(db *sql.DB, dialect dbx.Dialect, logger logging.Logger) *SQLStore {
	return &SQLStore{
		db:      db,
		conn:    db,
		dialect: dialect,
		logger:  logger.With("module", "sessions", "backend", string(dialect)),
	}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(s.dialect.Goose()); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	if err := gooseUpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

func (s *SQLStore) load(ctx context.Context, sid string) ([]string, int64, bool, error) {
	var raw string
	var version int64

	err := s.conn.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT paths, version FROM upload_ledgers WHERE session_id = ?`),
		sid,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("db error: %w", err)
	}

	paths, err := decodePaths([]byte(raw))
	if err != nil {
		return nil, 0, false, err
	}
	return paths, version, true, nil
}

func (s *SQLStore) Load(ctx context.Context, sid string) ([]string, error) {
	paths, _, _, err := s.load(ctx, sid)
	return paths, err
}

func (s *SQLStore) Update(ctx context.Context, sid string, fn func([]string) ([]string, error)) error {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		cur, version, found, err := s.load(ctx, sid)
		if err != nil {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		ok, err := s.swap(ctx, sid, next, version, found)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		s.logger.Debug(ctx, "ledger update conflict, retrying", "session_id", sid, "attempt", attempt+1)
	}

	return fmt.Errorf("session %s: %w", sid, common.ErrVersionConflict)
}

// swap writes next if the row is still at version (or still absent when
// found is false). It reports false when another writer got there first.
func (s *SQLStore) swap(ctx context.Context, sid string, next []string, version int64, found bool) (bool, error) {
	var (
		res sql.Result
		err error
	)

	switch {
	case len(next) == 0 && !found:
		return true, nil

	case len(next) == 0:
		res, err = s.conn.ExecContext(ctx,
			s.dialect.Rebind(`DELETE FROM upload_ledgers WHERE session_id = ? AND version = ?`),
			sid, version,
		)

	case !found:
		encoded, eerr := encodePaths(next)
		if eerr != nil {
			return false, eerr
		}
		res, err = s.conn.ExecContext(ctx,
			s.dialect.Rebind(`INSERT INTO upload_ledgers (session_id, paths, version, updated_at) VALUES (?, ?, 1, CURRENT_TIMESTAMP) ON CONFLICT (session_id) DO NOTHING`),
			sid, string(encoded),
		)

	default:
		encoded, eerr := encodePaths(next)
		if eerr != nil {
			return false, eerr
		}
		res, err = s.conn.ExecContext(ctx,
			s.dialect.Rebind(`UPDATE upload_ledgers SET paths = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE session_id = ? AND version = ?`),
			string(encoded), sid, version,
		)
	}
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
