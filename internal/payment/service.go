package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/plutu-gateway/internal/common"
	"github.com/noah-isme/plutu-gateway/internal/events"
	"github.com/noah-isme/plutu-gateway/internal/lock"
	"github.com/noah-isme/plutu-gateway/internal/obs"
	"github.com/noah-isme/plutu-gateway/internal/plutu"
	"github.com/noah-isme/plutu-gateway/internal/transaction"
)

// TxBeginner opens storage transactions. Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Service coordinates payment link creation and notification processing
// for the gateway.
type Service struct {
	Store    *transaction.Store
	Pool     TxBeginner
	Client   *plutu.Client
	Verifier plutu.Verifier

	Reconciler *transaction.Reconciler
	Events     *events.Bus
	Locker     lock.Locker
	LockTTL    time.Duration

	ReturnURL   string
	CallbackURL string

	MinimumAmount      int64
	SupportsCurrency   func(string) bool
	SupportsMethod     func(string) bool
	AllowUnknownMethod bool

	Logger zerolog.Logger
}

// CreateRequest carries a payment initiation from the host platform.
type CreateRequest struct {
	Reference     string
	Amount        int64
	Currency      string
	PaymentMethod string
	MobileNumber  string
	BirthYear     string
	Lang          string
}

// CreatePayment opens a transaction, requests the hosted-payment link from
// the gateway and returns the pending transaction carrying the redirect
// URL. A gateway failure leaves the record in the error state so the
// reference cannot silently reach a payable state.
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (transaction.Transaction, error) {
	var zero transaction.Transaction
	if s == nil || s.Store == nil || s.Client == nil {
		return zero, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreatePayment")
	defer span.End()

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.method", method),
			attribute.String("payment.result", result),
		)
		if obs.PaymentLinkTotal != nil {
			obs.PaymentLinkTotal.WithLabelValues(method, result).Inc()
		}
	}()

	if req.Amount < s.MinimumAmount {
		return zero, common.NewAppError("AMOUNT_TOO_LOW",
			fmt.Sprintf("amount is below the provider minimum of %s", common.FormatMinorAmount(s.MinimumAmount)),
			http.StatusUnprocessableEntity, nil)
	}
	if s.SupportsCurrency != nil && !s.SupportsCurrency(req.Currency) {
		return zero, common.NewAppError("CURRENCY_NOT_SUPPORTED",
			fmt.Sprintf("currency %s is not supported by this provider", req.Currency),
			http.StatusUnprocessableEntity, nil)
	}
	if s.SupportsMethod != nil && !s.AllowUnknownMethod && !s.SupportsMethod(method) {
		return zero, common.NewAppError("METHOD_NOT_SUPPORTED",
			fmt.Sprintf("payment method %s is not supported by this provider", method),
			http.StatusUnprocessableEntity, nil)
	}

	span.SetAttributes(attribute.String("payment.reference", req.Reference))
	created, err := s.Store.Create(ctx, transaction.Transaction{
		Reference:     req.Reference,
		ProviderCode:  plutu.ProviderCode,
		PaymentMethod: method,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		MobileNumber:  strings.TrimSpace(req.MobileNumber),
		BirthYear:     strings.TrimSpace(req.BirthYear),
	})
	if err != nil {
		if errors.Is(err, transaction.ErrReferenceInUse) {
			return zero, common.NewAppError("REFERENCE_IN_USE", "an active transaction already exists for this reference", http.StatusConflict, err)
		}
		return zero, err
	}

	redirect, err := s.Client.CreatePaymentLink(ctx, plutu.LinkRequest{
		PaymentMethod: method,
		Amount:        common.FormatMinorAmount(req.Amount),
		InvoiceNo:     created.Reference,
		ReturnURL:     s.ReturnURL,
		CallbackURL:   s.CallbackURL,
		MobileNumber:  created.MobileNumber,
		BirthYear:     created.BirthYear,
		Lang:          req.Lang,
	})
	if err != nil {
		span.RecordError(err)
		if stateErr := s.Store.UpdateState(ctx, created.ID, transaction.StateError); stateErr != nil {
			s.Logger.Error().Err(stateErr).Str("reference", created.Reference).Msg("mark failed transaction")
		}
		_ = s.Store.InsertEvent(ctx, created.ID, transaction.StateError, nil)
		return zero, mapGatewayError(err)
	}

	if err := s.Store.SetPaymentLink(ctx, created.ID, redirect, ""); err != nil {
		return zero, err
	}
	created.RedirectURL = redirect
	created.State = transaction.StatePending
	result = "success"

	if s.Events != nil {
		payload := map[string]any{
			"reference": created.Reference,
			"amount":    common.FormatMinorAmount(created.Amount),
			"currency":  created.Currency,
			"method":    created.PaymentMethod,
		}
		if err := s.Events.Emit(ctx, events.TopicPaymentInitiated, created.ID, payload); err != nil {
			s.Logger.Warn().Err(err).Str("reference", created.Reference).Msg("emit payment initiated event")
		}
	}
	return created, nil
}

// Status reports the transaction's current lifecycle state.
func (s *Service) Status(ctx context.Context, reference string) (transaction.Transaction, error) {
	return s.Store.GetByReference(ctx, plutu.ProviderCode, reference)
}

// Authenticate verifies the notification signature for the provenance.
// It must pass before any transaction lookup happens.
func (s *Service) Authenticate(params map[string]string, provenance plutu.Provenance) error {
	return s.Verifier.Verify(params, provenance)
}

// Result describes what processing a notification did.
type Result struct {
	Reference string
	Outcome   transaction.Outcome
}

// Process reconciles a verified notification against its transaction.
// Resolution and reconciliation run under a per-reference redis lock and
// inside one storage transaction with the row locked, so concurrent
// deliveries for a reference serialize.
func (s *Service) Process(ctx context.Context, params map[string]string, provenance plutu.Provenance) (Result, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Process")
	defer span.End()

	n := plutu.Normalize(params, provenance)
	span.SetAttributes(
		attribute.String("payment.provenance", string(provenance)),
		attribute.String("payment.gateway", n.Gateway),
		attribute.String("payment.reference", n.Reference),
	)
	if n.Reference == "" {
		return Result{}, transaction.ErrMissingReference
	}

	var result Result
	key := lock.ReferenceKey(plutu.ProviderCode, n.Reference)
	err := s.Locker.WithLock(ctx, key, s.LockTTL, func(ctx context.Context) error {
		dbtx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = dbtx.Rollback(ctx) }()
		q := s.Store.WithTx(dbtx)

		resolved, err := s.resolve(ctx, q, n)
		if err != nil {
			return err
		}
		s.checkAmount(resolved, n)
		outcome, err := s.Reconciler.Apply(ctx, q, resolved, n)
		if err != nil {
			return err
		}
		if err := dbtx.Commit(ctx); err != nil {
			return err
		}
		result = Result{Reference: resolved.Reference, Outcome: outcome}
		s.emitOutcome(ctx, resolved, outcome)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	return result, nil
}

// resolve finds the transaction the notification belongs to. The gateway
// transaction id is tried first; when it yields anything but a unique
// match the reference lookup is authoritative. Either way the row comes
// back locked.
func (s *Service) resolve(ctx context.Context, q *transaction.Store, n plutu.Notification) (transaction.Transaction, error) {
	if candidate, err := q.GetByGatewayTxID(ctx, plutu.ProviderCode, n.TransactionID); err == nil {
		return q.GetByIDForUpdate(ctx, candidate.ID)
	}
	return q.GetByReferenceForUpdate(ctx, plutu.ProviderCode, n.Reference)
}

// checkAmount compares the amount the gateway echoed with the stored
// transaction. A mismatch is logged; reconciliation proceeds either way.
func (s *Service) checkAmount(tx transaction.Transaction, n plutu.Notification) {
	if strings.TrimSpace(n.Amount) == "" {
		return
	}
	minor, err := common.ParseMinorAmount(n.Amount)
	if err != nil {
		s.Logger.Warn().
			Str("reference", tx.Reference).
			Str("notified_amount", n.Amount).
			Msg("unparseable amount on notification")
		return
	}
	if minor != tx.Amount {
		s.Logger.Warn().
			Str("reference", tx.Reference).
			Str("notified_amount", n.Amount).
			Str("stored_amount", common.FormatMinorAmount(tx.Amount)).
			Msg("notification amount differs from stored amount")
	}
}

func (s *Service) emitOutcome(ctx context.Context, tx transaction.Transaction, outcome transaction.Outcome) {
	if s.Events == nil || !outcome.Changed {
		return
	}
	topic := ""
	switch outcome.State {
	case transaction.StateDone:
		topic = events.TopicPaymentDone
	case transaction.StateCancel:
		topic = events.TopicPaymentCanceled
	case transaction.StatePending:
		topic = events.TopicPaymentPending
	default:
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"reference": tx.Reference,
		"state":     string(outcome.State),
		"amount":    common.FormatMinorAmount(tx.Amount),
		"currency":  tx.Currency,
	})
	if err := s.Events.Emit(ctx, topic, tx.ID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("reference", tx.Reference).Msg("emit payment event")
	}
}

func mapGatewayError(err error) error {
	var rejected *plutu.GatewayRejectedError
	switch {
	case errors.As(err, &rejected):
		appErr := common.NewAppError(common.CodeGatewayRejected, "the gateway rejected the payment request", http.StatusUnprocessableEntity, err)
		appErr.Details = map[string]any{"gateway": rejected.Body}
		return appErr
	case errors.Is(err, plutu.ErrMalformedGatewayResponse):
		return common.NewAppError(common.CodeGatewayMalformed, "the gateway returned an unexpected response", http.StatusBadGateway, err)
	case errors.Is(err, plutu.ErrGatewayUnreachable):
		return common.NewAppError(common.CodeGatewayUnreachable, "could not establish the connection to the gateway", http.StatusServiceUnavailable, err)
	default:
		return err
	}
}
