package plutu

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const testSecret = "sk_test_0123456789"

func signRaw(t *testing.T, secret, payload string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func webhookParams() map[string]string {
	return map[string]string{
		"gateway":        "sadadapi",
		"approved":       "1",
		"amount":         "100.00",
		"invoice_no":     "INV-1001",
		"canceled":       "0",
		"payment_method": "sadadapi",
		"transaction_id": "TX-77",
		"status":         "succeeded",
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	params := webhookParams()
	params["hashed"] = signRaw(t, testSecret,
		"gateway=sadadapi&approved=1&amount=100.00&invoice_no=INV-1001&canceled=0&payment_method=sadadapi&transaction_id=TX-77")

	v := Verifier{Secret: testSecret}
	if err := v.Verify(params, ProvenanceWebhook); err != nil {
		t.Fatalf("expected genuine webhook signature to verify: %v", err)
	}
}

func TestVerifyRedirectSignatureUsesOwnFieldOrder(t *testing.T) {
	params := map[string]string{
		"gateway":        "tlync",
		"approved":       "1",
		"canceled":       "0",
		"invoice_no":     "INV-2002",
		"amount":         "55.50",
		"transaction_id": "TX-88",
	}
	params["hashed"] = signRaw(t, testSecret,
		"gateway=tlync&approved=1&canceled=0&invoice_no=INV-2002&amount=55.50&transaction_id=TX-88")

	v := Verifier{Secret: testSecret}
	if err := v.Verify(params, ProvenanceRedirect); err != nil {
		t.Fatalf("expected genuine redirect signature to verify: %v", err)
	}
	if err := v.Verify(params, ProvenanceWebhook); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("redirect signature must not verify on the webhook field list, got %v", err)
	}
}

func TestVerifyTamperedAmountRejected(t *testing.T) {
	params := webhookParams()
	params["hashed"] = Signature(testSecret, params, ProvenanceWebhook)
	params["amount"] = "999.00"

	v := Verifier{Secret: testSecret}
	if err := v.Verify(params, ProvenanceWebhook); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	v := Verifier{Secret: testSecret}
	if err := v.Verify(webhookParams(), ProvenanceWebhook); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}

	params := webhookParams()
	params["hashed"] = "   "
	if err := v.Verify(params, ProvenanceWebhook); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature for blank value, got %v", err)
	}
}

func TestVerifySecretNotConfigured(t *testing.T) {
	params := webhookParams()
	params["hashed"] = Signature(testSecret, params, ProvenanceWebhook)
	if err := (Verifier{}).Verify(params, ProvenanceWebhook); !errors.Is(err, ErrSecretNotConfigured) {
		t.Fatalf("expected ErrSecretNotConfigured, got %v", err)
	}
}

func TestVerifyLowercaseClaimAccepted(t *testing.T) {
	params := webhookParams()
	params["hashed"] = strings.ToLower(Signature(testSecret, params, ProvenanceWebhook))
	v := Verifier{Secret: testSecret}
	if err := v.Verify(params, ProvenanceWebhook); err != nil {
		t.Fatalf("claimed signature must be case-insensitive: %v", err)
	}
}

func TestSignatureSkipsAbsentFields(t *testing.T) {
	params := map[string]string{
		"gateway":        "mpgs",
		"approved":       "1",
		"amount":         "10.00",
		"invoice_no":     "INV-3",
		"transaction_id": "TX-3",
	}
	want := signRaw(t, testSecret, "gateway=mpgs&approved=1&amount=10.00&invoice_no=INV-3&transaction_id=TX-3")
	if got := Signature(testSecret, params, ProvenanceWebhook); got != want {
		t.Fatalf("absent fields must be skipped, not signed empty: got %s want %s", got, want)
	}
}

func TestSignatureEmptyValueDiffersFromAbsent(t *testing.T) {
	withEmpty := map[string]string{"gateway": "mpgs", "approved": "1", "amount": "10.00", "invoice_no": "INV-3", "canceled": "", "transaction_id": "TX-3"}
	without := map[string]string{"gateway": "mpgs", "approved": "1", "amount": "10.00", "invoice_no": "INV-3", "transaction_id": "TX-3"}
	if Signature(testSecret, withEmpty, ProvenanceWebhook) == Signature(testSecret, without, ProvenanceWebhook) {
		t.Fatal("an empty field value must still contribute to the signing string")
	}
}
