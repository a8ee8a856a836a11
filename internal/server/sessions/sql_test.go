package sessions

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/dbx"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/pressly/goose/v3"
)

const (
	selectQ = `(?s)^SELECT\s+paths,\s*version\s+FROM\s+upload_ledgers\s+WHERE\s+session_id\s*=\s*\$1\s*$`
	insertQ = `(?s)^INSERT\s+INTO\s+upload_ledgers\s*\(session_id,\s*paths,\s*version,\s*updated_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*1,\s*CURRENT_TIMESTAMP\)\s*ON\s+CONFLICT\s*\(session_id\)\s*DO\s+NOTHING\s*$`
	updateQ = `(?s)^UPDATE\s+upload_ledgers\s+SET\s+paths\s*=\s*\$1,\s*version\s*=\s*version\s*\+\s*1,\s*updated_at\s*=\s*CURRENT_TIMESTAMP\s+WHERE\s+session_id\s*=\s*\$2\s+AND\s+version\s*=\s*\$3\s*$`
	deleteQ = `(?s)^DELETE\s+FROM\s+upload_ledgers\s+WHERE\s+session_id\s*=\s*\$1\s+AND\s+version\s*=\s*\$2\s*$`
)

func newStoreWithMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQLStore(db, dbx.Postgres, logging.Nop()), mock, db
}

func TestSQLStore_Load_NotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectQ).WithArgs("s").WillReturnError(sql.ErrNoRows)

	got, err := s.Load(context.Background(), "s")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty, got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_Load_DBError(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectQ).WithArgs("s").WillReturnError(errors.New("db down"))

	_, err := s.Load(context.Background(), "s")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestSQLStore_Update_InsertsNewRow(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectQ).WithArgs("s").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(insertQ).WithArgs("s", `["a"]`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Update(context.Background(), "s", appendPath("a"))
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_Update_CompareAndSwap(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"paths", "version"}).AddRow(`["a"]`, int64(3))
	mock.ExpectQuery(selectQ).WithArgs("s").WillReturnRows(rows)
	mock.ExpectExec(updateQ).WithArgs(`["a","b"]`, "s", int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Update(context.Background(), "s", appendPath("b")); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_Update_EmptyDeletes(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"paths", "version"}).AddRow(`["a"]`, int64(2))
	mock.ExpectQuery(selectQ).WithArgs("s").WillReturnRows(rows)
	mock.ExpectExec(deleteQ).WithArgs("s", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Update(context.Background(), "s", func([]string) ([]string, error) { return nil, nil })
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_Update_RetryThenConflict(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	for i := 0; i < maxUpdateRetries; i++ {
		v := int64(10 + i)
		mock.ExpectQuery(selectQ).WithArgs("s").
			WillReturnRows(sqlmock.NewRows([]string{"paths", "version"}).AddRow(`[]`, v))
		mock.ExpectExec(updateQ).WithArgs(`["x"]`, "s", v).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err := s.Update(context.Background(), "s", appendPath("x"))
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_Update_ExecError(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectQ).WithArgs("s").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(insertQ).WithArgs("s", `["a"]`).WillReturnError(errors.New("db err"))

	err := s.Update(context.Background(), "s", appendPath("a"))
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestSQLStore_Migrate(t *testing.T) {
	s, _, db := newStoreWithMock(t)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	if err := s.Migrate(context.Background()); err == nil {
		t.Fatal("expected migration error")
	}
}
