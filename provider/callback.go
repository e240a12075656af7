package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/gopayments/payflow/infra/logger"
	"github.com/gopayments/payflow/infra/store"
)

// CallbackURLs are the static fallback redirect targets, used when a
// transaction's metadata does not carry its own.
type CallbackURLs struct {
	Success string
	Error   string
	Cancel  string
}

// CallbackResult is the outcome of a browser-redirect confirmation.
// RedirectURL is always set; Transaction is nil when reconciliation
// failed internally.
type CallbackResult struct {
	Transaction *store.Transaction
	RedirectURL string
}

// CallbackReconciler applies a synchronous redirect confirmation to
// the transaction store. The caller is an end-user browser, so Handle
// never fails: any internal error becomes a redirect to the default
// error page.
type CallbackReconciler struct {
	transactions store.TransactionStore
	defaults     CallbackURLs
}

// NewCallbackReconciler creates a callback reconciler.
func NewCallbackReconciler(transactions store.TransactionStore, defaults CallbackURLs) *CallbackReconciler {
	return &CallbackReconciler{transactions: transactions, defaults: defaults}
}

// callbackIDFields maps a driver to the inbound parameter names that
// carry its transaction identifier, in lookup order.
var callbackIDFields = map[string][]string{
	"myfatoorah": {"paymentId", "InvoiceId"},
	"paymob":     {"id", "transaction_id"},
}

var genericCallbackIDFields = []string{"transaction_id", "id"}

func extractCallbackID(driverName string, params map[string]any) string {
	fields, ok := callbackIDFields[driverName]
	if !ok {
		fields = genericCallbackIDFields
	}
	return toString(firstPayloadValue(params, fields...))
}

// Handle reconciles one redirect confirmation. status is the route's
// outcome segment: "success" marks the transaction successful, any
// other value ("error", "cancel", ...) marks it failed.
func (c *CallbackReconciler) Handle(ctx context.Context, driverName, status string, params map[string]any) CallbackResult {
	terminal := store.StatusFailed
	if status == "success" {
		terminal = store.StatusSuccess
	}

	extractedID := extractCallbackID(driverName, params)

	txn, err := c.transactions.Reconcile(ctx, driverName, extractedID, func(txn *store.Transaction, found bool) error {
		if !found {
			// No pending predecessor: reconstruct the record
			// best-effort, directly in the terminal status.
			txn.Action = "pay"
			txn.TransactionID = extractedID
			txn.RequestPayload = store.JSONMap(params)
		}

		txn.MergeResponseData(store.JSONMap(params))
		if !regresses(txn.Status, terminal, found) {
			txn.Status = terminal
		}
		if txn.TransactionID == "" {
			txn.TransactionID = extractedID
		}
		return nil
	})
	if err != nil {
		logger.Error("Payment callback reconciliation failed", err, logger.LogContext{
			Driver: driverName,
			Fields: map[string]any{"status": status, "extracted_id": extractedID},
		})
		return CallbackResult{RedirectURL: c.defaults.Error}
	}

	return CallbackResult{
		Transaction: txn,
		RedirectURL: c.redirectURL(status, txn),
	}
}

// regresses reports whether applying next to an existing transaction
// would walk back an already-terminal positive outcome. success and
// refunded are sticky; a later failed or pending confirmation merges
// its data but does not flip the status.
func regresses(current, next store.Status, found bool) bool {
	if !found {
		return false
	}
	if current != store.StatusSuccess && current != store.StatusRefunded {
		return false
	}
	return next != store.StatusSuccess && next != store.StatusRefunded
}

// redirectURL computes where to send the user: the transaction's
// metadata URL for this outcome when present, else the static default.
func (c *CallbackReconciler) redirectURL(status string, txn *store.Transaction) string {
	metaKey, fallback := "error_url", c.defaults.Error
	switch status {
	case "success":
		metaKey, fallback = "success_url", c.defaults.Success
	case "cancel":
		metaKey, fallback = "cancel_url", c.defaults.Cancel
	}

	target := fallback
	if stored := toString(txn.Metadata[metaKey]); stored != "" {
		target = stored
		if txn.PayableID != "" {
			target = strings.ReplaceAll(target, "{id}", txn.PayableID)
			target = strings.ReplaceAll(target, "{payable_id}", txn.PayableID)
		}
	}

	return appendCallbackParams(target, txn)
}

func appendCallbackParams(target string, txn *store.Transaction) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}

	q := u.Query()
	q.Set("transaction_id", txn.TransactionID)
	q.Set("reference_id", txn.ReferenceID)
	q.Set("status", string(txn.Status))
	q.Set("driver", txn.Driver)
	q.Set("payable_type", txn.PayableType)
	q.Set("payable_id", txn.PayableID)
	u.RawQuery = q.Encode()

	return u.String()
}
