package transaction

import (
	"errors"

	"github.com/jackc/pgx/v5/pgtype"
)

// State is the canonical transaction lifecycle vocabulary. done and
// cancel are terminal; no notification may move a transaction out of
// them once applied.
type State string

const (
	StateDraft      State = "draft"
	StatePending    State = "pending"
	StateAuthorized State = "authorized"
	StateDone       State = "done"
	StateCancel     State = "cancel"
	StateError      State = "error"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancel
}

// Valid reports whether the value is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StatePending, StateAuthorized, StateDone, StateCancel, StateError:
		return true
	}
	return false
}

// Resolution and reconciliation failures. Missing reference and not-found
// indicate a consistency problem with genuine-looking data and are kept
// apart from authentication failures.
var (
	ErrMissingReference      = errors.New("transaction: received data with missing reference")
	ErrNotFound              = errors.New("transaction: no transaction found matching reference")
	ErrReferenceInUse        = errors.New("transaction: a non-terminal transaction already exists for this reference")
	ErrTerminalStateConflict = errors.New("transaction: conflicting transition on a terminal transaction")
)

// Transaction is the payment aggregate tracked for the gateway. Amounts
// are held in minor units; MobileNumber and BirthYear support OTP-based
// rails and are never used as reconciliation keys.
type Transaction struct {
	ID            pgtype.UUID
	Reference     string
	ProviderCode  string
	PaymentMethod string
	Amount        int64
	Currency      string
	MobileNumber  string
	BirthYear     string
	State         State
	GatewayTxID   string
	RedirectURL   string
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}
