package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Driver is the fixed capability set every payment gateway presents.
// Action covers any additional operation the registry defines.
type Driver interface {
	Name() string
	Pay(ctx context.Context, payload map[string]any) (*HTTPResponse, error)
	Refund(ctx context.Context, payload map[string]any) (*HTTPResponse, error)
	Status(ctx context.Context, payload map[string]any) (*HTTPResponse, error)
	Action(ctx context.Context, action string, payload map[string]any, opts RequestOptions, placeholders map[string]string) (*HTTPResponse, error)
}

// WebhookVerifier is implemented by drivers that can check a
// cryptographic webhook signature on top of the shared token scheme.
type WebhookVerifier interface {
	VerifyWebhook(body []byte, header http.Header) error
}

// NewDriver returns the driver variant for a name. The set is closed:
// only gateways whose behavior genuinely differs from the config-driven
// path get code of their own; everything else is the generic driver,
// and new method/path/placeholder-only gateways need config, not code.
func NewDriver(name string, resolver *Resolver, dispatcher *Dispatcher) (Driver, error) {
	cfg, ok := resolver.registry.Driver(name)
	if !ok {
		return nil, &ConfigError{Driver: name, Err: ErrUnknownDriver}
	}

	generic := &genericDriver{name: cfg.Name, resolver: resolver, dispatcher: dispatcher}
	switch cfg.Name {
	case "paypal":
		return &paypalDriver{genericDriver: generic}, nil
	case "stripe":
		return &stripeDriver{genericDriver: generic, webhookSecret: cfg.WebhookSecret}, nil
	default:
		return generic, nil
	}
}

// genericDriver implements every capability by resolving the action
// against the registry and dispatching the result.
type genericDriver struct {
	name       string
	resolver   *Resolver
	dispatcher *Dispatcher
}

func (d *genericDriver) Name() string { return d.name }

func (d *genericDriver) Action(ctx context.Context, action string, payload map[string]any, opts RequestOptions, placeholders map[string]string) (*HTTPResponse, error) {
	method, path, resolved, err := d.resolver.Resolve(d.name, action, payload, opts, placeholders)
	if err != nil {
		return nil, err
	}
	return d.dispatcher.Send(ctx, d.name, method, path, resolved)
}

func (d *genericDriver) Pay(ctx context.Context, payload map[string]any) (*HTTPResponse, error) {
	return d.Action(ctx, "pay", payload, RequestOptions{}, nil)
}

func (d *genericDriver) Refund(ctx context.Context, payload map[string]any) (*HTTPResponse, error) {
	return d.Action(ctx, "refund", payload, RequestOptions{}, nil)
}

func (d *genericDriver) Status(ctx context.Context, payload map[string]any) (*HTTPResponse, error) {
	return d.Action(ctx, "status", payload, RequestOptions{}, nil)
}

// liftPlaceholder moves a payload key into the placeholder map so it
// lands in the path instead of the body. Returns the reduced payload.
func liftPlaceholder(payload map[string]any, key, name string) (map[string]any, map[string]string) {
	value, ok := payload[key]
	if !ok {
		return payload, nil
	}
	reduced := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != key {
			reduced[k] = v
		}
	}
	return reduced, map[string]string{name: fmt.Sprintf("%v", value)}
}

// paypalDriver differs from the generic path in where identifiers go:
// refunds address a capture and status addresses an order, both in the
// URL rather than the body.
type paypalDriver struct {
	*genericDriver
}

func (d *paypalDriver) Refund(ctx context.Context, payload map[string]any) (*HTTPResponse, error) {
	payload, placeholders := liftPlaceholder(payload, "capture_id", "capture_id")
	return d.Action(ctx, "refund", payload, RequestOptions{}, placeholders)
}

func (d *paypalDriver) Status(ctx context.Context, payload map[string]any) (*HTTPResponse, error) {
	payload, placeholders := liftPlaceholder(payload, "order_id", "order_id")
	return d.Action(ctx, "status", payload, RequestOptions{}, placeholders)
}

// stripeDriver addresses payment intents by id in the status path and
// can verify webhook signatures when a signing secret is configured.
type stripeDriver struct {
	*genericDriver
	webhookSecret string
}

func (d *stripeDriver) Status(ctx context.Context, payload map[string]any) (*HTTPResponse, error) {
	payload, placeholders := liftPlaceholder(payload, "id", "id")
	return d.Action(ctx, "status", payload, RequestOptions{}, placeholders)
}

func (d *stripeDriver) VerifyWebhook(body []byte, header http.Header) error {
	if d.webhookSecret == "" {
		return nil
	}
	_, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), d.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("stripe signature verification failed: %w", err)
	}
	return nil
}
