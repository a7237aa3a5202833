package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a room or player row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict means another writer got there first (duplicate vote, duplicate
// tally, or a phase advance that someone else already performed). Callers
// treat it as "already handled", not as a failure.
var ErrConflict = errors.New("conflict: already handled")

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&Room{}, &Player{}, &MemeProposal{}, &Caption{}, &Vote{}, &RoundTally{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db, log: log}, nil
}

// New wraps an existing gorm handle; used by tests.
func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrConflict
	default:
		return err
	}
}
