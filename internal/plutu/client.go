package plutu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/plutu-gateway/internal/resilience"
)

// Outbound failure taxonomy. GatewayRejectedError carries the raw response
// body for operator diagnosis; unreachable and malformed are sentinel
// errors so callers can pick a retry policy.
var (
	ErrGatewayUnreachable       = errors.New("plutu: could not establish the connection to the API")
	ErrMalformedGatewayResponse = errors.New("plutu: gateway response is missing result.redirect_url")
)

// GatewayRejectedError is a non-2xx answer from the gateway.
type GatewayRejectedError struct {
	StatusCode int
	Body       string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("plutu: gateway rejected request with status %d: %s", e.StatusCode, e.Body)
}

// LinkRequest carries the payment-initiation payload.
type LinkRequest struct {
	PaymentMethod string
	Amount        string
	InvoiceNo     string
	ReturnURL     string
	CallbackURL   string
	MobileNumber  string
	BirthYear     string
	Lang          string
}

// Client talks to the Plutu transaction API. Requests are authenticated
// with the API key header plus the bearer access token and bounded by the
// wrapped HTTP client's timeout. No retries happen at this layer.
type Client struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	HTTP        *resilience.HTTPClient
	Logger      zerolog.Logger
}

type linkPayload struct {
	Amount       string `json:"amount"`
	InvoiceNo    string `json:"invoice_no"`
	ReturnURL    string `json:"return_url"`
	MobileNumber string `json:"mobile_number,omitempty"`
	BirthYear    string `json:"birth_year,omitempty"`
	CallbackURL  string `json:"callback_url"`
	Lang         string `json:"lang"`
}

type linkResponse struct {
	Result struct {
		RedirectURL string `json:"redirect_url"`
	} `json:"result"`
}

// CreatePaymentLink opens a hosted-payment session for the transaction and
// returns the redirect URL the customer should be sent to.
func (c *Client) CreatePaymentLink(ctx context.Context, req LinkRequest) (string, error) {
	if c == nil || c.HTTP == nil {
		return "", errors.New("plutu: client not configured")
	}
	lang := req.Lang
	if lang == "" {
		lang = "en"
	}
	payload, err := json.Marshal(linkPayload{
		Amount:       req.Amount,
		InvoiceNo:    req.InvoiceNo,
		ReturnURL:    req.ReturnURL,
		MobileNumber: req.MobileNumber,
		BirthYear:    req.BirthYear,
		CallbackURL:  req.CallbackURL,
		Lang:         lang,
	})
	if err != nil {
		return "", err
	}

	endpoint := c.endpoint(fmt.Sprintf("transaction/%s/confirm", EndpointMethod(req.PaymentMethod)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", c.APIKey)
	httpReq.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTP.Do(ctx, httpReq)
	if err != nil {
		c.Logger.Error().Err(err).Str("endpoint", endpoint).Msg("gateway unreachable")
		return "", fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.Logger.Error().Int("status", resp.StatusCode).Str("endpoint", endpoint).Str("body", string(body)).Msg("gateway rejected payment link request")
		return "", &GatewayRejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed linkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedGatewayResponse, err)
	}
	redirect := strings.TrimSpace(parsed.Result.RedirectURL)
	if redirect == "" {
		return "", ErrMalformedGatewayResponse
	}
	c.Logger.Debug().Str("endpoint", endpoint).Str("invoice_no", req.InvoiceNo).Msg("payment link created")
	return redirect, nil
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
