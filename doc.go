// Package payflow provides a config-driven payment gateway that fronts
// multiple payment providers behind one consistent API. Abstract
// actions (pay, refund, status, or anything a driver's configuration
// defines) are resolved into provider-specific HTTP calls, and every
// payment attempt is tracked as a durable transaction that inbound
// confirmations reconcile against.
//
// # Architecture
//
//	┌──────────────┐    ┌──────────────┐    ┌──────────────┐
//	│              │    │              │    │              │
//	│  Your Apps   │◄──►│   Payflow    │◄──►│   Payment    │
//	│              │    │  (Gateway)   │    │  Providers   │
//	│              │    │              │    │              │
//	└──────────────┘    └──────────────┘    └──────────────┘
//
// Outbound: a caller posts a payment to /v1/payments/{driver}; the
// resolver maps the action onto the driver's configured method, path
// and placeholders; the dispatcher makes exactly one HTTP call and the
// result lands on a transaction record.
//
// Inbound: browser callbacks (/payments/callback/{driver}/{status})
// and server webhooks (/webhooks/payments/{driver}) are matched to
// their transaction by provider id and applied idempotently — replays
// and out-of-order deliveries merge data without walking back a
// terminal outcome.
//
// Built-in driver configurations cover MyFatoorah, Paymob, PayPal and
// Stripe; new providers that differ only in URLs, methods and field
// names need configuration, not code.
package payflow
