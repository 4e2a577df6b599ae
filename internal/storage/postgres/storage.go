package postgres

import (
	"database/sql"
)

type Storage struct {
	*SessionRepository
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		SessionRepository: NewSessionRepository(db),
	}
}
