package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/gopayments/payflow/infra/config"
	"github.com/gopayments/payflow/infra/logger"
	"github.com/gopayments/payflow/infra/store"
)

// WebhookData is the canonical tuple every driver-shaped notification
// normalizes into.
type WebhookData struct {
	TransactionID string
	ReferenceID   string
	Status        store.Status
	Amount        *float64
	Currency      string
}

// WebhookDelivery is one inbound server-to-server notification.
type WebhookDelivery struct {
	Driver string
	Body   []byte
	Params map[string]any
	Header http.Header
}

// WebhookReconciler authenticates an asynchronous provider
// notification, normalizes it and applies it to the transaction store
// idempotently. Duplicate deliveries are expected and harmless.
type WebhookReconciler struct {
	registry     *config.Registry
	resolver     *Resolver
	dispatcher   *Dispatcher
	transactions store.TransactionStore
	globalToken  string
	dedupe       *DeliveryCache
}

// NewWebhookReconciler creates a webhook reconciler. dedupe may be nil;
// the apply step is idempotent with or without it.
func NewWebhookReconciler(registry *config.Registry, dispatcher *Dispatcher, transactions store.TransactionStore, globalToken string, dedupe *DeliveryCache) *WebhookReconciler {
	return &WebhookReconciler{
		registry:     registry,
		resolver:     NewResolver(registry),
		dispatcher:   dispatcher,
		transactions: transactions,
		globalToken:  globalToken,
		dedupe:       dedupe,
	}
}

// Handle processes one delivery. A nil return means applied (or a
// recognized duplicate); *AuthError means the caller failed
// authentication and nothing was mutated; any other error is internal
// and the provider should redeliver.
func (w *WebhookReconciler) Handle(ctx context.Context, delivery WebhookDelivery) error {
	if err := w.authenticate(delivery); err != nil {
		return err
	}

	if w.dedupe != nil {
		seen, err := w.dedupe.Seen(ctx, delivery.Driver, delivery.Body)
		if err != nil {
			logger.Warn("Webhook dedupe check failed, continuing without it", logger.LogContext{
				Driver: delivery.Driver,
				Fields: map[string]any{"error": err.Error()},
			})
		} else if seen {
			logger.Info("Duplicate webhook delivery skipped", logger.LogContext{Driver: delivery.Driver})
			return nil
		}
	}

	data := normalizeWebhook(delivery.Driver, delivery.Params)

	txn, err := w.transactions.Reconcile(ctx, delivery.Driver, data.TransactionID, func(txn *store.Transaction, found bool) error {
		if !found {
			txn.Action = "pay"
			txn.TransactionID = data.TransactionID
			txn.ReferenceID = data.ReferenceID
			txn.RequestPayload = store.JSONMap(delivery.Params)
		}

		txn.MergeResponseData(store.JSONMap(delivery.Params))
		if !regresses(txn.Status, data.Status, found) {
			txn.Status = data.Status
		}
		if txn.TransactionID == "" {
			txn.TransactionID = data.TransactionID
		}
		if data.Amount != nil {
			txn.Amount = data.Amount
		}
		if data.Currency != "" {
			txn.Currency = data.Currency
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Webhook processed", logger.LogContext{
		Driver:        delivery.Driver,
		TransactionID: txn.ID,
		Fields:        map[string]any{"provider_transaction_id": txn.TransactionID, "status": txn.Status},
	})
	return nil
}

// authenticate checks the delivery's signature (when the driver
// supports one) and its shared token. An unconfigured token accepts
// the request but is a security degradation, warned on every delivery.
func (w *WebhookReconciler) authenticate(delivery WebhookDelivery) error {
	var driverToken string
	if cfg, ok := w.registry.Driver(delivery.Driver); ok {
		driverToken = cfg.WebhookToken

		driver, err := NewDriver(delivery.Driver, w.resolver, w.dispatcher)
		if err == nil {
			if verifier, ok := driver.(WebhookVerifier); ok {
				if err := verifier.VerifyWebhook(delivery.Body, delivery.Header); err != nil {
					return &AuthError{Driver: delivery.Driver, Reason: err.Error()}
				}
			}
		}
	}

	token := driverToken
	if token == "" {
		token = w.globalToken
	}
	if token == "" {
		logger.Warn("Webhook token not configured, accepting unauthenticated delivery", logger.LogContext{
			Driver: delivery.Driver,
		})
		return nil
	}

	presented := presentedToken(delivery)
	if presented == "" || presented != token {
		return &AuthError{Driver: delivery.Driver, Reason: "token mismatch"}
	}
	return nil
}

// presentedToken extracts the caller's token: X-Webhook-Token header,
// then Authorization bearer, then body fields, in that order.
func presentedToken(delivery WebhookDelivery) string {
	token := delivery.Header.Get("X-Webhook-Token")
	if token == "" {
		token = delivery.Header.Get("Authorization")
	}
	if token == "" {
		token = toString(firstPayloadValue(delivery.Params, "token", "webhook_token"))
	}
	return strings.TrimPrefix(token, "Bearer ")
}

// statusPredicates maps each driver's raw success vocabulary onto the
// canonical outcome. Unknown drivers fall through to the generic
// predicate.
var statusPredicates = map[string]func(raw any) bool{
	"myfatoorah": func(raw any) bool {
		s := toString(raw)
		return s == "Paid" || s == "paid" || s == "Success"
	},
	"paymob": func(raw any) bool {
		switch v := raw.(type) {
		case bool:
			return v
		case string:
			return v == "true" || v == "1"
		case float64:
			return v == 1
		}
		return false
	},
	"paypal": func(raw any) bool {
		s := toString(raw)
		return s == "COMPLETED" || s == "completed" || s == "APPROVED"
	},
	"stripe": func(raw any) bool {
		s := toString(raw)
		return s == "succeeded" || s == "paid" || s == "payment_intent.succeeded"
	},
}

func genericStatusPredicate(raw any) bool {
	if b, ok := raw.(bool); ok {
		return b
	}
	s := toString(raw)
	return s == "success" || s == "true"
}

func mapWebhookStatus(driverName string, raw any) store.Status {
	predicate, ok := statusPredicates[driverName]
	if !ok {
		predicate = genericStatusPredicate
	}
	if predicate(raw) {
		return store.StatusSuccess
	}
	return store.StatusFailed
}

// normalizeWebhook flattens a driver-shaped notification into the
// canonical tuple. Each driver nests its payload differently; the
// shallow fallbacks cover test consoles and older API versions that
// send flat bodies.
func normalizeWebhook(driverName string, data map[string]any) WebhookData {
	switch driverName {
	case "myfatoorah":
		return WebhookData{
			TransactionID: toString(digAny(data, []string{"Data", "InvoiceId"}, []string{"InvoiceId"}, []string{"paymentId"})),
			ReferenceID:   toString(digAny(data, []string{"Data", "CustomerReference"}, []string{"CustomerReference"})),
			Status:        mapWebhookStatus(driverName, digAny(data, []string{"Data", "InvoiceStatus"}, []string{"InvoiceStatus"})),
			Amount:        toFloat(digAny(data, []string{"Data", "InvoiceValue"}, []string{"InvoiceValue"})),
			Currency:      toString(digAny(data, []string{"Data", "Currency"}, []string{"Currency"})),
		}
	case "paymob":
		amount := toFloat(dig(data, "obj", "amount_cents"))
		if amount != nil {
			cents := *amount / 100
			amount = &cents
		} else {
			amount = toFloat(dig(data, "amount"))
		}
		return WebhookData{
			TransactionID: toString(digAny(data, []string{"obj", "id"}, []string{"id"}, []string{"transaction_id"})),
			ReferenceID:   toString(digAny(data, []string{"obj", "order", "merchant_order_id"}, []string{"order_id"})),
			Status:        mapWebhookStatus(driverName, digAny(data, []string{"obj", "success"}, []string{"success"})),
			Amount:        amount,
			Currency:      toString(digAny(data, []string{"obj", "currency"}, []string{"currency"})),
		}
	case "paypal":
		return WebhookData{
			TransactionID: toString(digAny(data, []string{"resource", "id"}, []string{"id"})),
			ReferenceID:   toString(digAny(data, []string{"resource", "invoice_id"}, []string{"invoice_id"})),
			Status:        mapWebhookStatus(driverName, digAny(data, []string{"resource", "status"}, []string{"status"})),
			Amount:        toFloat(digAny(data, []string{"resource", "amount", "value"}, []string{"amount"})),
			Currency:      toString(digAny(data, []string{"resource", "amount", "currency_code"}, []string{"currency"})),
		}
	case "stripe":
		amount := toFloat(dig(data, "data", "object", "amount"))
		if amount != nil {
			cents := *amount / 100
			amount = &cents
		} else {
			amount = toFloat(dig(data, "amount"))
		}
		return WebhookData{
			TransactionID: toString(digAny(data, []string{"data", "object", "id"}, []string{"id"})),
			ReferenceID:   toString(digAny(data, []string{"data", "object", "metadata", "reference_id"}, []string{"reference_id"})),
			Status:        mapWebhookStatus(driverName, digAny(data, []string{"data", "object", "status"}, []string{"type"})),
			Amount:        amount,
			Currency:      toString(digAny(data, []string{"data", "object", "currency"}, []string{"currency"})),
		}
	default:
		return WebhookData{
			TransactionID: toString(digAny(data, []string{"transaction_id"}, []string{"id"})),
			ReferenceID:   toString(digAny(data, []string{"reference_id"}, []string{"order_id"})),
			Status:        mapWebhookStatus(driverName, dig(data, "status")),
			Amount:        toFloat(dig(data, "amount")),
			Currency:      toString(dig(data, "currency")),
		}
	}
}
