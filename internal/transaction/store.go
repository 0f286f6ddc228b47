package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX abstracts a pgx pool or transaction so stores can run inside an
// explicit transactional scope.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists payment transactions and their audit events.
type Store struct {
	DB DBTX
}

// WithTx returns a store bound to the provided transactional scope.
func (s *Store) WithTx(tx DBTX) *Store {
	return &Store{DB: tx}
}

const transactionColumns = `id, reference, provider_code, payment_method, amount, currency,
	mobile_number, birth_year, state, gateway_tx_id, redirect_url, created_at, updated_at`

// Create inserts a new draft transaction. A partial unique index keeps at
// most one non-terminal transaction per (provider_code, reference).
func (s *Store) Create(ctx context.Context, t Transaction) (Transaction, error) {
	if strings.TrimSpace(t.Reference) == "" {
		return Transaction{}, ErrMissingReference
	}
	state := t.State
	if state == "" {
		state = StateDraft
	}
	row := s.DB.QueryRow(ctx, `
		INSERT INTO transactions (reference, provider_code, payment_method, amount, currency, mobile_number, birth_year, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+transactionColumns,
		t.Reference, t.ProviderCode, t.PaymentMethod, t.Amount, t.Currency, t.MobileNumber, t.BirthYear, state,
	)
	created, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Transaction{}, ErrReferenceInUse
		}
		return Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return created, nil
}

// GetByReference resolves the transaction for a provider by its merchant
// reference.
func (s *Store) GetByReference(ctx context.Context, providerCode, reference string) (Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return Transaction{}, ErrMissingReference
	}
	row := s.DB.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE provider_code = $1 AND reference = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		providerCode, reference,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("get transaction by reference: %w", err)
	}
	return t, nil
}

// GetByReferenceForUpdate behaves like GetByReference but takes a row lock
// so concurrent notifications for one reference serialize at the storage
// layer. Call inside a pgx transaction.
func (s *Store) GetByReferenceForUpdate(ctx context.Context, providerCode, reference string) (Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return Transaction{}, ErrMissingReference
	}
	row := s.DB.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE provider_code = $1 AND reference = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`,
		providerCode, reference,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("lock transaction by reference: %w", err)
	}
	return t, nil
}

// GetByIDForUpdate reloads a transaction by primary key under a row lock.
func (s *Store) GetByIDForUpdate(ctx context.Context, id pgtype.UUID) (Transaction, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE`,
		id,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("lock transaction by id: %w", err)
	}
	return t, nil
}

// GetByGatewayTxID looks a transaction up by the gateway's own identifier.
// Zero or multiple matches yield ErrNotFound so the reference lookup stays
// authoritative.
func (s *Store) GetByGatewayTxID(ctx context.Context, providerCode, gatewayTxID string) (Transaction, error) {
	if strings.TrimSpace(gatewayTxID) == "" {
		return Transaction{}, ErrNotFound
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE provider_code = $1 AND gateway_tx_id = $2
		LIMIT 2`,
		providerCode, gatewayTxID,
	)
	if err != nil {
		return Transaction{}, fmt.Errorf("get transaction by gateway id: %w", err)
	}
	defer rows.Close()
	matches := make([]Transaction, 0, 2)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return Transaction{}, fmt.Errorf("get transaction by gateway id: %w", err)
		}
		matches = append(matches, t)
	}
	if err := rows.Err(); err != nil {
		return Transaction{}, fmt.Errorf("get transaction by gateway id: %w", err)
	}
	if len(matches) != 1 {
		return Transaction{}, ErrNotFound
	}
	return matches[0], nil
}

// UpdateState moves the transaction into the given lifecycle state.
func (s *Store) UpdateState(ctx context.Context, id pgtype.UUID, state State) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE transactions SET state = $2, updated_at = now() WHERE id = $1`,
		id, state,
	)
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentLink records the hosted-payment redirect URL and the gateway
// transaction id, moving the transaction from draft to pending.
func (s *Store) SetPaymentLink(ctx context.Context, id pgtype.UUID, redirectURL, gatewayTxID string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE transactions
		SET redirect_url = $2, gateway_tx_id = $3, state = $4, updated_at = now()
		WHERE id = $1 AND state = $5`,
		id, redirectURL, gatewayTxID, StatePending, StateDraft,
	)
	if err != nil {
		return fmt.Errorf("set payment link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertEvent appends an audit row recording a lifecycle transition and
// the raw notification that drove it.
func (s *Store) InsertEvent(ctx context.Context, transactionID pgtype.UUID, state State, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO transaction_events (transaction_id, state, payload) VALUES ($1, $2, $3)`,
		transactionID, state, payload,
	)
	if err != nil {
		return fmt.Errorf("insert transaction event: %w", err)
	}
	return nil
}

// InsertDomainEvent persists a domain event for downstream consumers.
func (s *Store) InsertDomainEvent(ctx context.Context, topic string, aggregateID pgtype.UUID, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload) VALUES ($1, $2, $3)`,
		topic, aggregateID, payload,
	)
	if err != nil {
		return fmt.Errorf("insert domain event: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.Reference, &t.ProviderCode, &t.PaymentMethod, &t.Amount, &t.Currency,
		&t.MobileNumber, &t.BirthYear, &t.State, &t.GatewayTxID, &t.RedirectURL, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}
