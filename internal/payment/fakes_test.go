package payment_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/plutu-gateway/internal/events"
	"github.com/noah-isme/plutu-gateway/internal/lock"
	"github.com/noah-isme/plutu-gateway/internal/payment"
	"github.com/noah-isme/plutu-gateway/internal/plutu"
	"github.com/noah-isme/plutu-gateway/internal/transaction"
)

const testSecret = "sk_test_0123456789"

// fakeDB is an in-memory stand-in for the transactions schema. It answers
// the store's SQL by matching on statement shape and tracks one transaction
// row plus its audit trail.
type fakeDB struct {
	mu        sync.Mutex
	tx        *transaction.Transaction
	stateLog  []transaction.State
	auditLog  []transaction.State
	topics    []string
	commits   int
	rollbacks int
	createErr error

	// stateUpdateErr fails the next state update once, then clears.
	stateUpdateErr error
}

func (db *fakeDB) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	switch {
	case strings.Contains(sql, "INSERT INTO transaction_events"):
		db.auditLog = append(db.auditLog, args[1].(transaction.State))
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "INSERT INTO domain_events"):
		db.topics = append(db.topics, args[0].(string))
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "redirect_url"):
		if db.tx == nil || db.tx.State != args[4].(transaction.State) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		db.tx.RedirectURL = args[1].(string)
		db.tx.GatewayTxID = args[2].(string)
		db.tx.State = args[3].(transaction.State)
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.Contains(sql, "UPDATE transactions SET state"):
		if db.stateUpdateErr != nil {
			err := db.stateUpdateErr
			db.stateUpdateErr = nil
			return pgconn.CommandTag{}, err
		}
		if db.tx == nil {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		db.tx.State = args[1].(transaction.State)
		db.stateLog = append(db.stateLog, db.tx.State)
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("fakeDB: unexpected exec: " + sql)
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !strings.Contains(sql, "gateway_tx_id") {
		return nil, errors.New("fakeDB: unexpected query: " + sql)
	}
	rows := &fakeRows{}
	if db.tx != nil && db.tx.GatewayTxID != "" && db.tx.GatewayTxID == args[1].(string) {
		rows.remaining = []transaction.Transaction{*db.tx}
	}
	return rows, nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	switch {
	case strings.Contains(sql, "INSERT INTO transactions"):
		if db.createErr != nil {
			return errRow{db.createErr}
		}
		now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
		created := transaction.Transaction{
			ID:            pgtype.UUID{Bytes: [16]byte(uuid.New()), Valid: true},
			Reference:     args[0].(string),
			ProviderCode:  args[1].(string),
			PaymentMethod: args[2].(string),
			Amount:        args[3].(int64),
			Currency:      args[4].(string),
			MobileNumber:  args[5].(string),
			BirthYear:     args[6].(string),
			State:         args[7].(transaction.State),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		db.tx = &created
		return txRow{created}
	case strings.Contains(sql, "FROM transactions"):
		if db.tx == nil {
			return errRow{pgx.ErrNoRows}
		}
		return txRow{*db.tx}
	}
	return errRow{errors.New("fakeDB: unexpected query row: " + sql)}
}

type fakeTx struct {
	db *fakeDB
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rollbacks++
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("fakeTx: copy from not supported")
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("fakeTx: prepare not supported")
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

type txRow struct {
	tx transaction.Transaction
}

func (r txRow) Scan(dest ...any) error { return assignTransaction(dest, r.tx) }

type errRow struct {
	err error
}

func (r errRow) Scan(dest ...any) error { return r.err }

type fakeRows struct {
	remaining []transaction.Transaction
	current   transaction.Transaction
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if len(r.remaining) == 0 {
		return false
	}
	r.current = r.remaining[0]
	r.remaining = r.remaining[1:]
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return assignTransaction(dest, r.current) }

func assignTransaction(dest []any, tx transaction.Transaction) error {
	if len(dest) != 13 {
		return errors.New("fakeDB: unexpected column count")
	}
	*dest[0].(*pgtype.UUID) = tx.ID
	*dest[1].(*string) = tx.Reference
	*dest[2].(*string) = tx.ProviderCode
	*dest[3].(*string) = tx.PaymentMethod
	*dest[4].(*int64) = tx.Amount
	*dest[5].(*string) = tx.Currency
	*dest[6].(*string) = tx.MobileNumber
	*dest[7].(*string) = tx.BirthYear
	*dest[8].(*transaction.State) = tx.State
	*dest[9].(*string) = tx.GatewayTxID
	*dest[10].(*string) = tx.RedirectURL
	*dest[11].(*pgtype.Timestamptz) = tx.CreatedAt
	*dest[12].(*pgtype.Timestamptz) = tx.UpdatedAt
	return nil
}

func seedTransaction(db *fakeDB, state transaction.State) transaction.Transaction {
	tx := transaction.Transaction{
		ID:            pgtype.UUID{Bytes: [16]byte(uuid.New()), Valid: true},
		Reference:     "INV-1001",
		ProviderCode:  plutu.ProviderCode,
		PaymentMethod: "sadadapi",
		Amount:        10_000,
		Currency:      "LYD",
		State:         state,
		CreatedAt:     pgtype.Timestamptz{Time: time.Now(), Valid: true},
		UpdatedAt:     pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	db.tx = &tx
	return tx
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "transactions_provider_reference_live_uq"}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestService(t *testing.T, db *fakeDB, rdb *redis.Client) *payment.Service {
	t.Helper()
	store := &transaction.Store{DB: db}
	return &payment.Service{
		Store:            store,
		Pool:             db,
		Verifier:         plutu.Verifier{Secret: testSecret},
		Reconciler:       &transaction.Reconciler{Logger: zerolog.Nop()},
		Events:           &events.Bus{Store: store},
		Locker:           lock.Locker{R: rdb},
		LockTTL:          5 * time.Second,
		ReturnURL:        "https://shop.example/payment/plutu/return",
		CallbackURL:      "https://shop.example/payment/plutu/webhook",
		MinimumAmount:    500,
		SupportsCurrency: func(code string) bool { return code == "LYD" || code == "USD" },
		SupportsMethod:   func(code string) bool { return code != "unknownpay" },
		Logger:           zerolog.Nop(),
	}
}
