// Package payments implements the payment-creation capability on top of
// PostgreSQL.
package payments

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/example/payments-gateway/internal/models"
)

const insertPayment = `INSERT INTO payments (name, description, price, user_id, category_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, name, description, price, user_id, category_id, created_at, updated_at`

// integrityViolationClass is the SQLSTATE class of constraint violations.
const integrityViolationClass = "23"

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store persists payments.
type Store struct {
	db     DB
	logger zerolog.Logger
}

// NewStore builds a store over db.
func NewStore(db DB, logger zerolog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("payments: db is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Store{db: db, logger: logger}, nil
}

// CreatePayment inserts one payment. Constraint violations are reported as a
// StatusFail result rather than an error; the caller decides what a refusal
// means. Every other database error is returned as is.
func (s *Store) CreatePayment(ctx context.Context, cmd models.CreatePaymentCommand) (models.CreateResult, error) {
	var p models.Payment
	err := s.db.QueryRow(ctx, insertPayment,
		cmd.Name,
		cmd.Description,
		cmd.Price,
		cmd.UserID,
		cmd.CategoryID,
	).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.UserID,
		&p.CategoryID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && isIntegrityViolation(pgErr.Code) {
			s.logger.Warn().
				Str("code", pgErr.Code).
				Str("constraint", pgErr.ConstraintName).
				Msg("payment violates constraint")
			return models.CreateResult{Status: models.StatusFail, Message: pgErr.Message}, nil
		}
		return models.CreateResult{Status: models.StatusError, Message: err.Error()}, fmt.Errorf("payments: insert: %w", err)
	}

	return models.CreateResult{Status: models.StatusSuccess, Payment: &p}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func isIntegrityViolation(code string) bool {
	return len(code) == 5 && code[:2] == integrityViolationClass
}
