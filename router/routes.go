package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gopayments/payflow/handler"
	"github.com/gopayments/payflow/infra/config"
	"github.com/gopayments/payflow/infra/middle"
)

// Deps carries everything the route tree needs. All handlers are
// constructed by the caller; the router only wires paths.
type Deps struct {
	Registry *config.Registry
	Payment  *handler.PaymentHandler
	Callback *handler.CallbackHandler
	Webhook  *handler.WebhookHandler
	Health   *handler.HealthHandler

	// APIKey protects the payment API. Callback and webhook routes
	// stay public: their callers cannot hold our credentials.
	APIKey string

	// WebhookPrefix is the base path for the generic per-driver
	// webhook route, e.g. "/webhooks/payments".
	WebhookPrefix string
}

// Routes registers the full route tree on r.
func Routes(r chi.Router, deps Deps) {
	r.Get("/health", deps.Health.CheckHealth)

	// Gateway redirect confirmations. GET is the common shape; a few
	// gateways POST the confirmation form.
	r.Get("/payments/callback/{driver}/{status}", deps.Callback.HandleCallback)
	r.Post("/payments/callback/{driver}/{status}", deps.Callback.HandleCallback)

	registerWebhookRoutes(r, deps)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middle.AuthMiddleware(deps.APIKey))

		r.Route("/payments", func(r chi.Router) {
			// Default-driver routes
			r.Post("/", deps.Payment.ProcessPayment)
			r.Post("/refund", deps.Payment.RefundPayment)
			r.Get("/status", deps.Payment.GetPaymentStatus)

			// Driver-specific routes
			r.Post("/{driver}", deps.Payment.ProcessPayment)
			r.Post("/{driver}/refund", deps.Payment.RefundPayment)
			r.Get("/{driver}/status", deps.Payment.GetPaymentStatus)
			r.Post("/{driver}/actions/{action}", deps.Payment.ExecuteAction)
		})
	})
}

// registerWebhookRoutes mounts the generic prefix route plus any
// driver-specific routes the registry configures. Providers dictate
// their own delivery paths and methods, so both are config-driven.
func registerWebhookRoutes(r chi.Router, deps Deps) {
	prefix := strings.TrimSuffix(deps.WebhookPrefix, "/")
	if prefix == "" {
		prefix = "/webhooks/payments"
	}
	r.Post(prefix+"/{driver}", deps.Webhook.HandleWebhook)
	r.Get(prefix+"/{driver}", deps.Webhook.HandleWebhook)

	for _, name := range deps.Registry.DriverNames() {
		cfg, ok := deps.Registry.Driver(name)
		if !ok || cfg.WebhookRoute == "" {
			continue
		}

		methods := cfg.WebhookMethods
		if len(methods) == 0 {
			methods = []string{http.MethodPost}
		}
		bound := deps.Webhook.ForDriver(cfg.Name)
		for _, method := range methods {
			r.Method(strings.ToUpper(method), cfg.WebhookRoute, bound)
		}
	}
}
