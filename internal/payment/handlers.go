package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/plutu-gateway/internal/common"
	"github.com/noah-isme/plutu-gateway/internal/transaction"
)

// Handler exposes HTTP endpoints for opening payments and polling state.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type createReq struct {
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	PaymentMethod string `json:"paymentMethod" validate:"required"`
	MobileNumber  string `json:"mobileNumber,omitempty"`
	BirthYear     string `json:"birthYear,omitempty" validate:"omitempty,len=4,numeric"`
	Lang          string `json:"lang,omitempty" validate:"omitempty,oneof=en ar"`
}

type paymentResp struct {
	Reference   string `json:"reference"`
	State       string `json:"state"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"paymentMethod"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// Create opens a new transaction and returns the hosted-payment link.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Reference == "" {
		req.Reference = "PLT-" + strings.ToUpper(uuid.NewString()[:13])
	}
	created, err := h.Svc.CreatePayment(r.Context(), CreateRequest{
		Reference:     req.Reference,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		MobileNumber:  req.MobileNumber,
		BirthYear:     req.BirthYear,
		Lang:          req.Lang,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, toResp(created))
}

// Get reports the lifecycle state of a transaction.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeMissingReference, "reference is required", nil)
		return
	}
	tx, err := h.Svc.Status(r.Context(), reference)
	if err != nil {
		renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, toResp(tx))
}

func toResp(tx transaction.Transaction) paymentResp {
	return paymentResp{
		Reference:   tx.Reference,
		State:       string(tx.State),
		Amount:      common.FormatMinorAmount(tx.Amount),
		Currency:    tx.Currency,
		Method:      tx.PaymentMethod,
		RedirectURL: tx.RedirectURL,
	}
}

func renderError(w http.ResponseWriter, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, transaction.ErrMissingReference):
		common.JSONError(w, http.StatusBadRequest, common.CodeMissingReference, "received data with missing reference", nil)
	case errors.Is(err, transaction.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeTxNotFound, "no transaction found matching reference", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
