package plutu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Provenance tags which inbound path delivered a notification. It decides
// the signed field list and which reconciliation branches apply.
type Provenance string

const (
	// ProvenanceRedirect marks the browser return from the hosted page.
	ProvenanceRedirect Provenance = "redirect"
	// ProvenanceWebhook marks a server-to-server callback delivery.
	ProvenanceWebhook Provenance = "webhook"
)

// ErrMalformedNotification is returned when an inbound payload cannot be
// read as a flat key-value structure.
var ErrMalformedNotification = errors.New("plutu: malformed notification payload")

// Notification is the typed view of an inbound gateway callback. It is
// never persisted; raw parameter values are kept verbatim because they
// participate in signature verification exactly as received.
type Notification struct {
	Provenance    Provenance
	Gateway       string
	Reference     string
	Amount        string
	TransactionID string
	PaymentMethod string
	Status        string
	Approved      bool
	Canceled      bool
	Params        map[string]string
}

// ParseWebhookParams decodes a POST body into the raw parameter map. Only
// flat objects of scalar values are accepted; numbers keep their exact
// wire text so signing strings round-trip.
func ParseWebhookParams(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	params := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			params[key] = v
		case json.Number:
			params[key] = v.String()
		case bool:
			if v {
				params[key] = "1"
			} else {
				params[key] = "0"
			}
		case nil:
			params[key] = ""
		default:
			return nil, fmt.Errorf("%w: field %q is not a scalar", ErrMalformedNotification, key)
		}
	}
	return params, nil
}

// ParseRedirectParams flattens a GET query into the raw parameter map.
func ParseRedirectParams(query url.Values) map[string]string {
	params := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

// Normalize builds the typed notification from verified raw parameters.
func Normalize(params map[string]string, provenance Provenance) Notification {
	return Notification{
		Provenance:    provenance,
		Gateway:       strings.TrimSpace(params["gateway"]),
		Reference:     strings.TrimSpace(params["invoice_no"]),
		Amount:        params["amount"],
		TransactionID: params["transaction_id"],
		PaymentMethod: params["payment_method"],
		Status:        strings.TrimSpace(params["status"]),
		Approved:      truthy(params["approved"]),
		Canceled:      truthy(params["canceled"]),
		Params:        params,
	}
}

// truthy interprets the gateway's flag encoding. The gateway sends "1"/"0"
// in both JSON and query form; bare booleans were normalised earlier.
func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "no", "null":
		return false
	default:
		return true
	}
}
