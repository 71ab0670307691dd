package payments_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/example/payments-gateway/internal/models"
	"github.com/example/payments-gateway/internal/payments"
)

type fakeRow struct {
	payment models.Payment
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*uuid.UUID) = r.payment.ID
	*dest[1].(*string) = r.payment.Name
	*dest[2].(*string) = r.payment.Description
	*dest[3].(*float64) = r.payment.Price
	*dest[4].(*uuid.UUID) = r.payment.UserID
	*dest[5].(*uuid.UUID) = r.payment.CategoryID
	*dest[6].(*time.Time) = r.payment.CreatedAt
	*dest[7].(*time.Time) = r.payment.UpdatedAt
	return nil
}

type fakeDB struct {
	sql     string
	args    []any
	row     fakeRow
	pingErr error
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sql = sql
	f.args = args
	return f.row
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func TestCreatePaymentInsertsCommand(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	user := uuid.New()
	db := &fakeDB{row: fakeRow{payment: models.Payment{
		ID: id, Name: "Widget", Price: 9.99, UserID: user, CreatedAt: now, UpdatedAt: now,
	}}}
	store, err := payments.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	cmd := models.CreatePaymentCommand{Name: "Widget", Price: 9.99, UserID: user}
	res, err := store.CreatePayment(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Succeeded() || res.Payment == nil || res.Payment.ID != id {
		t.Fatalf("unexpected result %+v", res)
	}

	if !strings.HasPrefix(db.sql, "INSERT INTO payments (name, description, price, user_id, category_id)") {
		t.Fatalf("unexpected statement %q", db.sql)
	}
	want := []any{"Widget", "", 9.99, user, uuid.Nil}
	if len(db.args) != len(want) {
		t.Fatalf("args = %v", db.args)
	}
	for i := range want {
		if db.args[i] != want[i] {
			t.Fatalf("arg %d = %v, want %v", i, db.args[i], want[i])
		}
	}
}

func TestCreatePaymentReportsConstraintViolationAsFail(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23503", Message: "insert or update on table \"payments\" violates foreign key constraint", ConstraintName: "payments_user_id_fkey"}
	store, err := payments.NewStore(&fakeDB{row: fakeRow{err: pgErr}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	res, err := store.CreatePayment(context.Background(), models.CreatePaymentCommand{Name: "Bad"})
	if err != nil {
		t.Fatalf("constraint violations should not be returned as errors: %v", err)
	}
	if res.Status != models.StatusFail || res.Message != pgErr.Message {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCreatePaymentReturnsOtherErrors(t *testing.T) {
	cases := map[string]error{
		"syntax":     &pgconn.PgError{Code: "42601", Message: "syntax error"},
		"connection": errors.New("conn closed"),
	}
	for name, cause := range cases {
		cause := cause
		t.Run(name, func(t *testing.T) {
			store, err := payments.NewStore(&fakeDB{row: fakeRow{err: cause}}, zerolog.Nop())
			if err != nil {
				t.Fatalf("new store: %v", err)
			}
			res, err := store.CreatePayment(context.Background(), models.CreatePaymentCommand{Name: "x"})
			if !errors.Is(err, cause) {
				t.Fatalf("expected wrapped %v, got %v", cause, err)
			}
			if res.Succeeded() {
				t.Fatalf("failed insert must not report success")
			}
		})
	}
}

func TestStorePing(t *testing.T) {
	boom := errors.New("down")
	store, err := payments.NewStore(&fakeDB{pingErr: boom}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Ping(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected ping error, got %v", err)
	}

	if _, err := payments.NewStore(nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestConnectValidatesURL(t *testing.T) {
	if _, err := payments.Connect(context.Background(), "", 1); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := payments.Connect(context.Background(), "postgres://%zz", 1); err == nil {
		t.Fatalf("expected parse error")
	}
}
