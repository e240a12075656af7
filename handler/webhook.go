package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gopayments/payflow/infra/logger"
	"github.com/gopayments/payflow/infra/response"
	"github.com/gopayments/payflow/provider"
)

// WebhookHandler terminates asynchronous provider notifications. The
// caller is a gateway's delivery machinery, which wants a bare status
// string and retries anything that is not a 2xx.
type WebhookHandler struct {
	reconciler *provider.WebhookReconciler
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(reconciler *provider.WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandleWebhook authenticates and applies one delivery. The driver
// name comes from the URL parameter, or is fixed by the route for
// provider-specific webhook paths.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, chi.URLParam(r, "driver"))
}

// ForDriver returns a handler bound to a fixed driver name, for routes
// whose path the provider dictates.
func (h *WebhookHandler) ForDriver(driverName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handle(w, r, driverName)
	}
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, driverName string) {
	if driverName == "" {
		response.PlainText(w, http.StatusBadRequest, "Bad Request")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		response.PlainText(w, http.StatusBadRequest, "Bad Request")
		return
	}

	delivery := provider.WebhookDelivery{
		Driver: driverName,
		Body:   body,
		Params: parseWebhookBody(body, r.Header.Get("Content-Type")),
		Header: r.Header,
	}

	if err := h.reconciler.Handle(r.Context(), delivery); err != nil {
		var authErr *provider.AuthError
		if errors.As(err, &authErr) {
			logger.Warn("Unauthorized webhook delivery rejected", logger.LogContext{
				Driver: driverName,
				Fields: map[string]any{"reason": authErr.Reason},
			})
			response.PlainText(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		logger.Error("Webhook processing failed", err, logger.LogContext{Driver: driverName})
		response.PlainText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	response.PlainText(w, http.StatusOK, "OK")
}

// parseWebhookBody decodes the delivery body by content type. Gateways
// send JSON or urlencoded forms; an undecodable body still proceeds
// with empty params so the raw bytes get recorded.
func parseWebhookBody(body []byte, contentType string) map[string]any {
	params := make(map[string]any)
	if len(body) == 0 {
		return params
	}

	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return params
		}
		for key, list := range values {
			if len(list) > 0 {
				params[key] = list[0]
			}
		}
		return params
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded
	}
	return params
}
