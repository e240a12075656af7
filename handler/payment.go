package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gopayments/payflow/infra/response"
	"github.com/gopayments/payflow/infra/store"
	"github.com/gopayments/payflow/provider"
)

// PaymentServiceInterface defines the payment operations the handler
// dispatches to.
type PaymentServiceInterface interface {
	Pay(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error)
	Refund(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error)
	Status(ctx context.Context, driverName string, payload map[string]any) (*provider.HTTPResponse, error)
	Action(ctx context.Context, driverName, action string, payload map[string]any, opts provider.RequestOptions, placeholders map[string]string) (*provider.HTTPResponse, error)
}

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	paymentService PaymentServiceInterface
	validate       *validator.Validate
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService PaymentServiceInterface, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		validate:       validate,
	}
}

// paymentRequest is the JSON body of pay and refund calls. Payload is
// forwarded to the gateway; everything else is bookkeeping.
type paymentRequest struct {
	Payload     map[string]any `json:"payload"`
	PayableType string         `json:"payable_type"`
	PayableID   string         `json:"payable_id"`
	UserType    string         `json:"user_type"`
	UserID      string         `json:"user_id"`
	ReferenceID string         `json:"reference_id"`
	Amount      *float64       `json:"amount"`
	Currency    string         `json:"currency" validate:"omitempty,len=3"`
	Metadata    map[string]any `json:"metadata"`
	UserPayload map[string]any `json:"user_payload"`
	RedirectURL string         `json:"redirect_url" validate:"omitempty,url"`
	SuccessURL  string         `json:"success_url" validate:"omitempty,url"`
	ErrorURL    string         `json:"error_url" validate:"omitempty,url"`
	CancelURL   string         `json:"cancel_url" validate:"omitempty,url"`
}

func (r paymentRequest) options() provider.PaymentOptions {
	return provider.PaymentOptions{
		PayableType: r.PayableType,
		PayableID:   r.PayableID,
		UserType:    r.UserType,
		UserID:      r.UserID,
		ReferenceID: r.ReferenceID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		Metadata:    store.JSONMap(r.Metadata),
		UserPayload: store.JSONMap(r.UserPayload),
		RedirectURL: r.RedirectURL,
		SuccessURL:  r.SuccessURL,
		ErrorURL:    r.ErrorURL,
		CancelURL:   r.CancelURL,
	}
}

// actionRequest is the JSON body of custom action calls.
type actionRequest struct {
	Payload      map[string]any    `json:"payload"`
	Headers      map[string]string `json:"headers"`
	Query        map[string]string `json:"query"`
	Placeholders map[string]string `json:"placeholders"`
}

// ProcessPayment handles payment requests
func (h *PaymentHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	req, ok := h.decodePaymentRequest(w, r)
	if !ok {
		return
	}

	driverName := chi.URLParam(r, "driver")

	txn, err := h.paymentService.Pay(ctx, driverName, req.Payload, req.options())
	if err != nil {
		writeServiceError(w, "Payment failed", err, txn)
		return
	}

	response.Success(w, http.StatusOK, "Payment processed", txn)
}

// RefundPayment handles refund requests
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	req, ok := h.decodePaymentRequest(w, r)
	if !ok {
		return
	}

	driverName := chi.URLParam(r, "driver")

	txn, err := h.paymentService.Refund(ctx, driverName, req.Payload, req.options())
	if err != nil {
		writeServiceError(w, "Refund failed", err, txn)
		return
	}

	response.Success(w, http.StatusOK, "Refund processed", txn)
}

// GetPaymentStatus handles payment status requests
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	driverName := chi.URLParam(r, "driver")

	payload := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			payload[key] = values[0]
		}
	}
	if r.Body != nil && r.ContentLength != 0 {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			for key, value := range body {
				payload[key] = value
			}
		}
	}

	resp, err := h.paymentService.Status(ctx, driverName, payload)
	if err != nil {
		writeServiceError(w, "Failed to get payment status", err, nil)
		return
	}

	response.Success(w, resp.StatusCode, "Payment status retrieved", resp.JSON())
}

// ExecuteAction invokes any configured action by name.
func (h *PaymentHandler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	driverName := chi.URLParam(r, "driver")
	action := chi.URLParam(r, "action")
	if action == "" {
		response.Error(w, http.StatusBadRequest, "Missing action name", nil)
		return
	}

	var req actionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid request format", err)
			return
		}
	}

	resp, err := h.paymentService.Action(ctx, driverName, action, req.Payload, provider.RequestOptions{
		Headers: req.Headers,
		Query:   req.Query,
	}, req.Placeholders)
	if err != nil {
		writeServiceError(w, "Action failed", err, nil)
		return
	}

	response.Success(w, resp.StatusCode, "Action executed", resp.JSON())
}

func (h *PaymentHandler) decodePaymentRequest(w http.ResponseWriter, r *http.Request) (paymentRequest, bool) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return req, false
	}
	return req, true
}

// writeServiceError maps service errors onto HTTP codes: configuration
// mistakes are the caller's fault, everything else is a gateway or
// internal problem. A recorded failed transaction rides along so the
// caller can inspect it.
func writeServiceError(w http.ResponseWriter, message string, err error, txn *store.Transaction) {
	status := http.StatusInternalServerError

	var cfgErr *provider.ConfigError
	if errors.As(err, &cfgErr) {
		status = http.StatusBadRequest
	}
	var transportErr *provider.TransportError
	if errors.As(err, &transportErr) {
		status = http.StatusBadGateway
	}

	if txn != nil {
		_ = response.WriteJSON(w, status, response.Response{
			Code:    status,
			Success: false,
			Message: message + ": " + err.Error(),
			Data:    txn,
		})
		return
	}
	response.Error(w, status, message, err)
}
