package provider

import (
	"context"

	"github.com/gopayments/payflow/infra/config"
	"github.com/gopayments/payflow/infra/logger"
	"github.com/gopayments/payflow/infra/store"
)

// PaymentOptions carries the call-site context for an outbound pay or
// refund: who owns the payment, how to correlate it and where to send
// the user afterwards.
type PaymentOptions struct {
	PayableType string
	PayableID   string
	UserType    string
	UserID      string
	ReferenceID string
	Amount      *float64
	Currency    string
	Metadata    store.JSONMap
	UserPayload store.JSONMap

	// RedirectURL is shorthand for one page handling every outcome.
	// The individual URLs win when both are given.
	RedirectURL string
	SuccessURL  string
	ErrorURL    string
	CancelURL   string
}

// Service drives the outbound payment lifecycle: create a pending
// transaction, dispatch the gateway call, record the terminal outcome.
// A failed call always leaves an inspectable failed transaction; a
// payment attempt is never silently lost.
type Service struct {
	registry      *config.Registry
	resolver      *Resolver
	dispatcher    *Dispatcher
	transactions  store.TransactionStore
	defaultDriver string
}

// NewService creates the payment service.
func NewService(registry *config.Registry, dispatcher *Dispatcher, transactions store.TransactionStore, defaultDriver string) *Service {
	return &Service{
		registry:      registry,
		resolver:      NewResolver(registry),
		dispatcher:    dispatcher,
		transactions:  transactions,
		defaultDriver: defaultDriver,
	}
}

// Driver returns the facade for a driver name, or the default driver
// when the name is empty.
func (s *Service) Driver(name string) (Driver, error) {
	if name == "" {
		name = s.defaultDriver
	}
	return NewDriver(name, s.resolver, s.dispatcher)
}

// Pay initiates a payment: persists a pending transaction, dispatches
// the gateway call and records the terminal result.
func (s *Service) Pay(ctx context.Context, driverName string, payload map[string]any, opts PaymentOptions) (*store.Transaction, error) {
	driver, err := s.Driver(driverName)
	if err != nil {
		return nil, err
	}

	payload = s.decoratePayload(payload, opts)

	txn := s.newTransaction(driver.Name(), "pay", payload, opts)
	txn.ReferenceID = pickString(opts.ReferenceID, payload, "reference_id", "CustomerReference")
	txn.Amount = pickAmount(opts.Amount, payload, "amount", "InvoiceValue")
	txn.Currency = pickString(opts.Currency, payload, "currency", "CurrencyIso")

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, err
	}

	resp, err := driver.Pay(ctx, payload)
	return s.finish(ctx, txn, resp, err, store.StatusSuccess)
}

// Refund initiates a refund against a prior payment. Same lifecycle as
// Pay; a 2xx answer lands the transaction in refunded.
func (s *Service) Refund(ctx context.Context, driverName string, payload map[string]any, opts PaymentOptions) (*store.Transaction, error) {
	driver, err := s.Driver(driverName)
	if err != nil {
		return nil, err
	}

	txn := s.newTransaction(driver.Name(), "refund", payload, opts)
	txn.ReferenceID = pickString(opts.ReferenceID, payload, "reference_id", "Key")
	txn.Amount = pickAmount(opts.Amount, payload, "amount", "RefundValue")
	txn.Currency = pickString(opts.Currency, payload, "currency")

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, err
	}

	resp, err := driver.Refund(ctx, payload)
	return s.finish(ctx, txn, resp, err, store.StatusRefunded)
}

// Status queries the gateway for a payment's current state. A status
// inquiry creates no transaction record.
func (s *Service) Status(ctx context.Context, driverName string, payload map[string]any) (*HTTPResponse, error) {
	driver, err := s.Driver(driverName)
	if err != nil {
		return nil, err
	}
	return driver.Status(ctx, payload)
}

// Action invokes any registry-defined action by name.
func (s *Service) Action(ctx context.Context, driverName, action string, payload map[string]any, opts RequestOptions, placeholders map[string]string) (*HTTPResponse, error) {
	driver, err := s.Driver(driverName)
	if err != nil {
		return nil, err
	}
	return driver.Action(ctx, action, payload, opts, placeholders)
}

func (s *Service) newTransaction(driverName, action string, payload map[string]any, opts PaymentOptions) *store.Transaction {
	metadata := store.MergeJSON(nil, opts.Metadata)
	if opts.RedirectURL != "" {
		metadata["success_url"] = opts.RedirectURL
		metadata["error_url"] = opts.RedirectURL
		metadata["cancel_url"] = opts.RedirectURL
	}
	if opts.SuccessURL != "" {
		metadata["success_url"] = opts.SuccessURL
	}
	if opts.ErrorURL != "" {
		metadata["error_url"] = opts.ErrorURL
	}
	if opts.CancelURL != "" {
		metadata["cancel_url"] = opts.CancelURL
	}

	return &store.Transaction{
		PayableType:    opts.PayableType,
		PayableID:      opts.PayableID,
		UserType:       opts.UserType,
		UserID:         opts.UserID,
		Driver:         driverName,
		Action:         action,
		Status:         store.StatusPending,
		RequestPayload: store.JSONMap(payload),
		UserPayload:    opts.UserPayload,
		Metadata:       metadata,
	}
}

// decoratePayload fills gateway callback fields from the redirect
// configuration when the caller did not set them.
func (s *Service) decoratePayload(payload map[string]any, opts PaymentOptions) map[string]any {
	successURL := opts.SuccessURL
	errorURL := opts.ErrorURL
	if opts.RedirectURL != "" {
		if successURL == "" {
			successURL = opts.RedirectURL
		}
		if errorURL == "" {
			errorURL = opts.RedirectURL
		}
	}
	if successURL == "" && errorURL == "" {
		return payload
	}

	decorated := make(map[string]any, len(payload)+2)
	for key, value := range payload {
		decorated[key] = value
	}
	if _, ok := decorated["CallbackUrl"]; !ok && successURL != "" {
		decorated["CallbackUrl"] = successURL
	}
	if _, ok := decorated["ErrorUrl"]; !ok && errorURL != "" {
		decorated["ErrorUrl"] = errorURL
	}
	return decorated
}

// finish records the terminal outcome of a dispatched call on the
// pending transaction.
func (s *Service) finish(ctx context.Context, txn *store.Transaction, resp *HTTPResponse, callErr error, successStatus store.Status) (*store.Transaction, error) {
	if callErr != nil {
		txn.Status = store.StatusFailed
		txn.ErrorMessage = callErr.Error()
		if err := s.transactions.Update(ctx, txn); err != nil {
			logger.Error("Failed to record failed payment attempt", err, logger.LogContext{
				Driver:        txn.Driver,
				TransactionID: txn.ID,
			})
		}
		return txn, callErr
	}

	body := resp.JSON()
	txn.HTTPStatusCode = resp.StatusCode
	txn.MergeResponseData(store.JSONMap(body))

	if resp.Successful() {
		txn.Status = successStatus
		txn.ErrorMessage = ""
	} else {
		txn.Status = store.StatusFailed
		txn.ErrorMessage = responseErrorMessage(body, resp.Body)
	}

	if id := extractTransactionID(txn.Driver, body); id != "" {
		txn.TransactionID = id
	}

	if err := s.transactions.Update(ctx, txn); err != nil {
		return txn, err
	}
	return txn, nil
}

// extractTransactionID pulls the provider-side id out of a gateway
// response body.
func extractTransactionID(driverName string, body map[string]any) string {
	if body == nil {
		return ""
	}
	switch driverName {
	case "myfatoorah":
		return toString(digAny(body,
			[]string{"Data", "InvoiceId"},
			[]string{"Data", "InvoiceURL"},
		))
	default:
		return toString(digAny(body,
			[]string{"id"},
			[]string{"transaction_id"},
		))
	}
}

func responseErrorMessage(body map[string]any, raw []byte) string {
	if message := toString(digAny(body, []string{"Message"}, []string{"message"}, []string{"error"})); message != "" {
		return message
	}
	return string(raw)
}

func pickString(explicit string, payload map[string]any, keys ...string) string {
	if explicit != "" {
		return explicit
	}
	return toString(firstPayloadValue(payload, keys...))
}

func pickAmount(explicit *float64, payload map[string]any, keys ...string) *float64 {
	if explicit != nil {
		return explicit
	}
	return toFloat(firstPayloadValue(payload, keys...))
}
