package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/plutu-gateway/internal/common"
	"github.com/noah-isme/plutu-gateway/internal/obs"
	"github.com/noah-isme/plutu-gateway/internal/plutu"
	"github.com/noah-isme/plutu-gateway/internal/transaction"
)

// ReplayStore is the subset of redis used for webhook deduplication.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Webhook handles the gateway's asynchronous notifications: the
// server-to-server callback and the browser return redirect.
//
// Ack policy: once the signature checks out, the gateway must not be left
// retrying a notification that was understood. Reconciliation anomalies
// are logged and acknowledged; only authentication failures are refused.
type Webhook struct {
	Svc           *Service
	Replay        ReplayStore
	ReplayTTL     time.Duration
	StatusPageURL string
	Logger        zerolog.Logger
}

// HandleCallback processes POST webhook deliveries. Success and understood
// anomalies acknowledge with an empty JSON body.
func (h Webhook) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	result := "error"
	defer func() {
		if obs.PaymentNotificationTotal != nil {
			obs.PaymentNotificationTotal.WithLabelValues(string(plutu.ProvenanceWebhook), result).Inc()
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	params, err := plutu.ParseWebhookParams(body)
	if err != nil {
		result = "malformed"
		common.JSONError(w, http.StatusBadRequest, common.CodeMalformedNotification, "payload is not a flat key-value object", nil)
		return
	}

	if err := h.Svc.Authenticate(params, plutu.ProvenanceWebhook); err != nil {
		result = h.renderAuthFailure(w, err)
		return
	}

	var dedupeKey string
	if h.Replay != nil && h.ReplayTTL > 0 {
		key := common.NotificationFingerprint(plutu.ProviderCode, body)
		ok, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !ok {
			// this exact body was already applied; the reconciler is
			// idempotent, so the retry gets the same ack
			result = "replay"
			h.Logger.Info().Msg("duplicate webhook delivery acknowledged")
			common.JSON(w, http.StatusOK, map[string]any{})
			return
		}
		dedupeKey = key
	}

	res, err := h.Svc.Process(r.Context(), params, plutu.ProvenanceWebhook)
	switch {
	case err == nil:
		result = "success"
	case errors.Is(err, transaction.ErrTerminalStateConflict):
		// understood but anomalous; ack so the gateway stops retrying
		result = "conflict"
		h.Logger.Warn().Err(err).
			Str("reference", strings.TrimSpace(params["invoice_no"])).
			Msg("terminal state conflict on webhook delivery")
		common.JSON(w, http.StatusOK, map[string]any{})
		return
	case errors.Is(err, transaction.ErrMissingReference):
		h.releaseDedupe(r.Context(), dedupeKey)
		result = "missing_reference"
		common.JSONError(w, http.StatusBadRequest, common.CodeMissingReference, "received data with missing reference", nil)
		return
	case errors.Is(err, transaction.ErrNotFound):
		h.releaseDedupe(r.Context(), dedupeKey)
		result = "not_found"
		common.JSONError(w, http.StatusNotFound, common.CodeTxNotFound, "no transaction found matching reference", nil)
		return
	default:
		h.releaseDedupe(r.Context(), dedupeKey)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	h.Logger.Info().
		Str("reference", res.Reference).
		Str("state", string(res.Outcome.State)).
		Bool("duplicate", res.Outcome.Duplicate).
		Msg("webhook acknowledged")
	common.JSON(w, http.StatusOK, map[string]any{})
}

// releaseDedupe frees the dedupe key of a delivery that was not applied,
// keeping the gateway's retries processable.
func (h Webhook) releaseDedupe(ctx context.Context, key string) {
	if key == "" || h.Replay == nil {
		return
	}
	if err := h.Replay.Del(ctx, key).Err(); err != nil {
		h.Logger.Warn().Err(err).Msg("release webhook dedupe key")
	}
}

// HandleReturn processes the browser redirect after the hosted payment.
// After the signature passes, the customer is always redirected to the
// status page regardless of reconciliation outcome.
func (h Webhook) HandleReturn(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "return handler unavailable", nil)
		return
	}
	result := "error"
	defer func() {
		if obs.PaymentNotificationTotal != nil {
			obs.PaymentNotificationTotal.WithLabelValues(string(plutu.ProvenanceRedirect), result).Inc()
		}
	}()

	params := plutu.ParseRedirectParams(r.URL.Query())
	if err := h.Svc.Authenticate(params, plutu.ProvenanceRedirect); err != nil {
		result = h.renderAuthFailure(w, err)
		return
	}

	if _, err := h.Svc.Process(r.Context(), params, plutu.ProvenanceRedirect); err != nil {
		// the customer still lands on the status page; the anomaly is ours
		h.Logger.Warn().Err(err).Msg("redirect notification not reconciled")
		result = "anomaly"
	} else {
		result = "success"
	}

	statusPage := h.StatusPageURL
	if statusPage == "" {
		statusPage = "/payment/status"
	}
	http.Redirect(w, r, statusPage, http.StatusSeeOther)
}

// renderAuthFailure rejects the request and returns the metric label for
// the failure class. Forged and unsigned requests must never be
// acknowledged as valid.
func (h Webhook) renderAuthFailure(w http.ResponseWriter, err error) string {
	switch {
	case errors.Is(err, plutu.ErrSecretNotConfigured):
		h.Logger.Error().Msg("secret key is not configured")
		common.JSONError(w, http.StatusInternalServerError, common.CodeConfigError, "provider is not configured", nil)
		return "config_error"
	case errors.Is(err, plutu.ErrMissingSignature):
		h.Logger.Warn().Msg("received notification with missing signature")
		common.JSONError(w, http.StatusForbidden, common.CodeInvalidSignature, "signature verification failed", nil)
		return "missing_signature"
	default:
		h.Logger.Warn().Msg("received notification with invalid signature")
		common.JSONError(w, http.StatusForbidden, common.CodeInvalidSignature, "signature verification failed", nil)
		return "invalid_signature"
	}
}
