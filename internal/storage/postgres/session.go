package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rryowa/authsession/internal/storage"
)

type SessionRepository struct {
	db storage.DBTX
}

func NewSessionRepository(db storage.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) LoadRecord(ctx context.Context, namespace string) ([]byte, error) {
	var data []byte
	query := `SELECT payload FROM client_sessions WHERE namespace = $1`
	err := r.db.QueryRowContext(ctx, query, namespace).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to select session record: %w", err)
	}
	return data, nil
}

// SaveRecord upserts the whole record so readers never see a partial write.
func (r *SessionRepository) SaveRecord(ctx context.Context, namespace string, data []byte) error {
	query := `INSERT INTO client_sessions (namespace, payload, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (namespace) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, namespace, data); err != nil {
		return fmt.Errorf("failed to upsert session record: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteRecord(ctx context.Context, namespace string) error {
	query := `DELETE FROM client_sessions WHERE namespace = $1`
	if _, err := r.db.ExecContext(ctx, query, namespace); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}
