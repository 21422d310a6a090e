package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicate          = errors.New("duplicate key")
)

// Querier is every persistence operation the services need. The same method
// set runs against the pool or inside a transaction.
type Querier interface {
	ChatRepository
	MemberRepository
	MessageRepository
	UserRepository
}

// Store adds transactions to Querier.
type Store interface {
	Querier
	// InTx runs fn in a single transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(q Querier) error) error
}

type queries struct {
	db sqlx.ExtContext
}

// SQLStore is the postgres implementation of Store.
type SQLStore struct {
	*queries
	db *sqlx.DB
}

// NewStore constructs a SQLStore.
func NewStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{queries: &queries{db: db}, db: db}
}

// InTx runs fn inside a transaction.
func (s *SQLStore) InTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	if err = fn(&queries{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
