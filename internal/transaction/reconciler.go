package transaction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/plutu-gateway/internal/plutu"
)

// Mutator is the subset of Store the reconciler needs. Pass a tx-bound
// store so a notification's transition and audit row commit atomically.
type Mutator interface {
	UpdateState(ctx context.Context, id pgtype.UUID, state State) error
	InsertEvent(ctx context.Context, transactionID pgtype.UUID, state State, payload []byte) error
}

// Outcome describes what a notification did to a transaction.
type Outcome struct {
	State     State
	Changed   bool
	Duplicate bool
}

// Reconciler drives the transaction lifecycle from verified gateway
// notifications.
type Reconciler struct {
	Logger zerolog.Logger
}

// Apply translates the notification into a lifecycle transition and
// records it. Re-delivery of a terminal-equivalent notification is a
// no-op beyond a second audit entry; a notification targeting a different
// state on a terminal transaction is rejected with
// ErrTerminalStateConflict and leaves the record untouched.
func (r *Reconciler) Apply(ctx context.Context, store Mutator, tx Transaction, n plutu.Notification) (Outcome, error) {
	if tx.ProviderCode != plutu.ProviderCode {
		return Outcome{State: tx.State}, nil
	}

	target, applies := targetState(n)
	if !applies {
		r.Logger.Info().
			Str("reference", tx.Reference).
			Str("gateway", n.Gateway).
			Str("state", string(tx.State)).
			Msg("notification carries no transition for strict gateway")
		return Outcome{State: tx.State}, nil
	}

	payload, err := json.Marshal(n.Params)
	if err != nil {
		payload = []byte("{}")
	}

	if tx.State == target {
		if err := store.InsertEvent(ctx, tx.ID, target, payload); err != nil {
			return Outcome{}, err
		}
		r.Logger.Info().
			Str("reference", tx.Reference).
			Str("state", string(target)).
			Msg("duplicate notification re-delivered, state unchanged")
		return Outcome{State: target, Duplicate: true}, nil
	}

	if tx.State.Terminal() {
		r.Logger.Warn().
			Str("reference", tx.Reference).
			Str("state", string(tx.State)).
			Str("target", string(target)).
			Msg("notification attempted to move a terminal transaction")
		return Outcome{State: tx.State}, fmt.Errorf("%w: %s -> %s for %s", ErrTerminalStateConflict, tx.State, target, tx.Reference)
	}

	if err := store.UpdateState(ctx, tx.ID, target); err != nil {
		return Outcome{}, err
	}
	if err := store.InsertEvent(ctx, tx.ID, target, payload); err != nil {
		return Outcome{}, err
	}
	r.Logger.Info().
		Str("reference", tx.Reference).
		Str("state", string(target)).
		Str("provenance", string(n.Provenance)).
		Msg("transaction reconciled")
	return Outcome{State: target, Changed: true}, nil
}

// targetState resolves the notification to a lifecycle state. The strict
// branch (known sub-rails on the webhook path) never falls back to
// pending; everything else uses the generic branch whose default is
// pending.
func targetState(n plutu.Notification) (State, bool) {
	strict := n.Provenance == plutu.ProvenanceWebhook && plutu.IsStrictGateway(n.Gateway)
	switch {
	case n.Approved:
		return StateDone, true
	case n.Canceled:
		return StateCancel, true
	case strict:
		return "", false
	}
	if mapped := MapExternalToState(n.Status); mapped == StateDone || mapped == StateCancel || mapped == StatePending {
		return mapped, true
	}
	return StatePending, true
}
