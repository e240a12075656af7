package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopayments/payflow/infra/store"
	"github.com/gopayments/payflow/provider"
)

// Mock payment service for testing
type mockPaymentService struct {
	payFunc    func(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error)
	refundFunc func(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error)
	statusFunc func(ctx context.Context, driverName string, payload map[string]any) (*provider.HTTPResponse, error)
	actionFunc func(ctx context.Context, driverName, action string, payload map[string]any, opts provider.RequestOptions, placeholders map[string]string) (*provider.HTTPResponse, error)
}

func (m *mockPaymentService) Pay(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error) {
	if m.payFunc != nil {
		return m.payFunc(ctx, driverName, payload, opts)
	}
	return &store.Transaction{ID: "txn-1", Driver: driverName, Action: "pay", Status: store.StatusSuccess}, nil
}

func (m *mockPaymentService) Refund(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error) {
	if m.refundFunc != nil {
		return m.refundFunc(ctx, driverName, payload, opts)
	}
	return &store.Transaction{ID: "txn-2", Driver: driverName, Action: "refund", Status: store.StatusRefunded}, nil
}

func (m *mockPaymentService) Status(ctx context.Context, driverName string, payload map[string]any) (*provider.HTTPResponse, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, driverName, payload)
	}
	return &provider.HTTPResponse{StatusCode: http.StatusOK, Body: []byte(`{"status":"succeeded"}`)}, nil
}

func (m *mockPaymentService) Action(ctx context.Context, driverName, action string, payload map[string]any, opts provider.RequestOptions, placeholders map[string]string) (*provider.HTTPResponse, error) {
	if m.actionFunc != nil {
		return m.actionFunc(ctx, driverName, action, payload, opts, placeholders)
	}
	return &provider.HTTPResponse{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil
}

func paymentRouter(service PaymentServiceInterface) chi.Router {
	h := NewPaymentHandler(service, validator.New())
	r := chi.NewRouter()
	r.Post("/payments/{driver}", h.ProcessPayment)
	r.Post("/payments/{driver}/refund", h.RefundPayment)
	r.Get("/payments/{driver}/status", h.GetPaymentStatus)
	r.Post("/payments/{driver}/actions/{action}", h.ExecuteAction)
	return r
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProcessPayment(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotDriver string
		var gotOpts provider.PaymentOptions
		service := &mockPaymentService{
			payFunc: func(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error) {
				gotDriver = driverName
				gotOpts = opts
				return &store.Transaction{ID: "txn-1", Driver: driverName, Status: store.StatusSuccess}, nil
			},
		}

		body := `{"payload":{"amount":100},"payable_type":"order","payable_id":"9","currency":"USD"}`
		req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(body))
		rec := httptest.NewRecorder()
		paymentRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "stripe", gotDriver)
		assert.Equal(t, "order", gotOpts.PayableType)
		assert.Equal(t, "USD", gotOpts.Currency)

		resp := decodeResponse(t, rec)
		assert.Equal(t, true, resp["success"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader("{nope"))
		rec := httptest.NewRecorder()
		paymentRouter(&mockPaymentService{}).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation error", func(t *testing.T) {
		body := `{"payload":{},"currency":"USDX"}`
		req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(body))
		rec := httptest.NewRecorder()
		paymentRouter(&mockPaymentService{}).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown driver maps to 400", func(t *testing.T) {
		service := &mockPaymentService{
			payFunc: func(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error) {
				return nil, &provider.ConfigError{Driver: driverName, Err: provider.ErrUnknownDriver}
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/payments/ghost", strings.NewReader(`{"payload":{}}`))
		rec := httptest.NewRecorder()
		paymentRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("transport failure maps to 502 with transaction", func(t *testing.T) {
		service := &mockPaymentService{
			payFunc: func(ctx context.Context, driverName string, payload map[string]any, opts provider.PaymentOptions) (*store.Transaction, error) {
				txn := &store.Transaction{ID: "txn-f", Driver: driverName, Status: store.StatusFailed}
				return txn, &provider.TransportError{Driver: driverName, Err: context.DeadlineExceeded}
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{"payload":{}}`))
		rec := httptest.NewRecorder()
		paymentRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decodeResponse(t, rec)
		data := resp["data"].(map[string]any)
		assert.Equal(t, "txn-f", data["id"])
	})
}

func TestRefundPayment(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/payments/stripe/refund", strings.NewReader(`{"payload":{"payment_intent":"pi_1"}}`))
	rec := httptest.NewRecorder()
	paymentRouter(&mockPaymentService{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp["data"].(map[string]any)
	assert.Equal(t, "refunded", data["status"])
}

func TestGetPaymentStatus(t *testing.T) {
	var gotPayload map[string]any
	service := &mockPaymentService{
		statusFunc: func(ctx context.Context, driverName string, payload map[string]any) (*provider.HTTPResponse, error) {
			gotPayload = payload
			return &provider.HTTPResponse{StatusCode: http.StatusOK, Body: []byte(`{"status":"succeeded"}`)}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/stripe/status?id=pi_1", nil)
	rec := httptest.NewRecorder()
	paymentRouter(service).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pi_1", gotPayload["id"])
}

func TestExecuteAction(t *testing.T) {
	var gotAction string
	var gotPlaceholders map[string]string
	service := &mockPaymentService{
		actionFunc: func(ctx context.Context, driverName, action string, payload map[string]any, opts provider.RequestOptions, placeholders map[string]string) (*provider.HTTPResponse, error) {
			gotAction = action
			gotPlaceholders = placeholders
			return &provider.HTTPResponse{StatusCode: http.StatusOK, Body: []byte(`{"ok":true}`)}, nil
		},
	}

	body := `{"payload":{"amount":5},"placeholders":{"id":"pi_3"}}`
	req := httptest.NewRequest(http.MethodPost, "/payments/stripe/actions/capture", strings.NewReader(body))
	rec := httptest.NewRecorder()
	paymentRouter(service).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "capture", gotAction)
	assert.Equal(t, map[string]string{"id": "pi_3"}, gotPlaceholders)
}
