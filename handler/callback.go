package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gopayments/payflow/provider"
)

// CallbackHandler terminates gateway redirect confirmations. The
// caller is an end-user browser mid-checkout, so the only acceptable
// outcome is a redirect.
type CallbackHandler struct {
	reconciler *provider.CallbackReconciler
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(reconciler *provider.CallbackReconciler) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler}
}

// HandleCallback reconciles the confirmation and redirects the user.
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	driverName := chi.URLParam(r, "driver")
	status := chi.URLParam(r, "status")

	params := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	// Some gateways POST the confirmation form instead of appending
	// query parameters.
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			for key, values := range r.PostForm {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}
		}
	}

	result := h.reconciler.Handle(r.Context(), driverName, status, params)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}
