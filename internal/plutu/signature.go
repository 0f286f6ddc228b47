package plutu

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Authentication failures are kept distinct so callers can log a missing
// signature differently from a mismatching one. Both must reject the
// notification before any transaction lookup happens.
var (
	ErrSecretNotConfigured = errors.New("plutu: secret key is not configured")
	ErrMissingSignature    = errors.New("plutu: notification carries no signature")
	ErrSignatureMismatch   = errors.New("plutu: signature mismatch")
)

// signatureField is the notification parameter carrying the claimed HMAC.
const signatureField = "hashed"

// The gateway signs a provenance-specific ordered subset of the
// notification parameters. The two lists differ in both membership and
// order; sharing one list breaks genuine signatures on the other path.
var (
	webhookSignedFields  = []string{"gateway", "approved", "amount", "invoice_no", "canceled", "payment_method", "transaction_id"}
	redirectSignedFields = []string{"gateway", "approved", "canceled", "invoice_no", "amount", "transaction_id"}
)

// Verifier authenticates inbound notifications against the per-merchant
// secret key.
type Verifier struct {
	Secret string
}

// Verify checks the claimed signature in params against the HMAC computed
// over the provenance's signed field list. The compare is constant-time.
func (v Verifier) Verify(params map[string]string, provenance Provenance) error {
	if strings.TrimSpace(v.Secret) == "" {
		return ErrSecretNotConfigured
	}
	claimed := strings.ToUpper(strings.TrimSpace(params[signatureField]))
	if claimed == "" {
		return ErrMissingSignature
	}
	computed := Signature(v.Secret, params, provenance)
	if !hmac.Equal([]byte(computed), []byte(claimed)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Signature computes the uppercase hex HMAC-SHA256 the gateway is expected
// to send for the given parameters and provenance. Exported for sandbox
// tooling and tests.
func Signature(secret string, params map[string]string, provenance Provenance) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingString(params, provenance)))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// signingString concatenates the signed fields in their fixed order as
// key=value pairs joined by &. Fields absent from the notification are
// skipped entirely, matching the sender: an absent field contributes
// nothing, not an empty value.
func signingString(params map[string]string, provenance Provenance) string {
	fields := redirectSignedFields
	if provenance == ProvenanceWebhook {
		fields = webhookSignedFields
	}
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		value, ok := params[field]
		if !ok {
			continue
		}
		parts = append(parts, field+"="+value)
	}
	return strings.Join(parts, "&")
}
