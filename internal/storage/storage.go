package storage

import (
	"context"
	"database/sql"
	"errors"
)

var ErrRecordNotFound = errors.New("session record not found")

// SessionRepository persists the single namespaced session record.
// Values are opaque bytes; encoding belongs to the caller.
type SessionRepository interface {
	LoadRecord(ctx context.Context, namespace string) ([]byte, error)
	SaveRecord(ctx context.Context, namespace string, data []byte) error
	DeleteRecord(ctx context.Context, namespace string) error
}

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
