package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopayments/payflow/infra/config"
)

func driverTestDeps(t *testing.T, gatewayURL string) (*Resolver, *Dispatcher) {
	t.Helper()
	registry, err := config.NewRegistry([]config.DriverConfig{
		{
			Name:    "paypal",
			BaseURL: gatewayURL,
			Actions: map[string]config.ActionSpec{
				"pay":    {Method: "POST", Path: "/v2/checkout/orders"},
				"refund": {Method: "POST", Path: "/v2/payments/captures/{capture_id}/refund", Placeholders: map[string]string{"capture_id": "capture_id"}},
				"status": {Method: "GET", Path: "/v2/checkout/orders/{order_id}", Placeholders: map[string]string{"order_id": "order_id"}},
			},
		},
		{
			Name:    "stripe",
			BaseURL: gatewayURL,
			Actions: map[string]config.ActionSpec{
				"pay":    {Method: "POST", Path: "/payment_intents"},
				"status": {Method: "GET", Path: "/payment_intents/{id}", Placeholders: map[string]string{"id": "id"}},
			},
		},
		{
			Name:    "acmepay",
			BaseURL: gatewayURL,
			Actions: map[string]config.ActionSpec{
				"pay": {Method: "POST", Path: "/charge"},
			},
		},
	}, "")
	require.NoError(t, err)
	return NewResolver(registry), NewDispatcher(registry)
}

func TestNewDriverVariants(t *testing.T) {
	resolver, dispatcher := driverTestDeps(t, "http://unused")

	paypal, err := NewDriver("paypal", resolver, dispatcher)
	require.NoError(t, err)
	assert.IsType(t, &paypalDriver{}, paypal)

	stripe, err := NewDriver("stripe", resolver, dispatcher)
	require.NoError(t, err)
	assert.IsType(t, &stripeDriver{}, stripe)

	generic, err := NewDriver("acmepay", resolver, dispatcher)
	require.NoError(t, err)
	assert.IsType(t, &genericDriver{}, generic)

	_, err = NewDriver("ghost", resolver, dispatcher)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestPaypalDriverLiftsIdentifiers(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	resolver, dispatcher := driverTestDeps(t, server.URL)
	driver, err := NewDriver("paypal", resolver, dispatcher)
	require.NoError(t, err)

	_, err = driver.Refund(context.Background(), map[string]any{"capture_id": "CAP-1", "amount": 5})
	require.NoError(t, err)

	_, err = driver.Status(context.Background(), map[string]any{"order_id": "ORD-2"})
	require.NoError(t, err)

	require.Len(t, paths, 2)
	assert.Equal(t, "/v2/payments/captures/CAP-1/refund", paths[0])
	assert.Equal(t, "/v2/checkout/orders/ORD-2", paths[1])
}

func TestStripeDriverStatusPath(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	resolver, dispatcher := driverTestDeps(t, server.URL)
	driver, err := NewDriver("stripe", resolver, dispatcher)
	require.NoError(t, err)

	_, err = driver.Status(context.Background(), map[string]any{"id": "pi_55"})
	require.NoError(t, err)
	assert.Equal(t, "/payment_intents/pi_55", path)
}

func TestStripeVerifyWebhook(t *testing.T) {
	d := &stripeDriver{webhookSecret: ""}
	assert.NoError(t, d.VerifyWebhook([]byte(`{}`), http.Header{}))

	d.webhookSecret = "whsec_test"
	err := d.VerifyWebhook([]byte(`{}`), http.Header{})
	assert.Error(t, err, "missing signature header must fail verification")
}

func TestLiftPlaceholder(t *testing.T) {
	payload := map[string]any{"capture_id": "CAP-9", "amount": 10}

	reduced, placeholders := liftPlaceholder(payload, "capture_id", "capture_id")
	assert.Equal(t, map[string]string{"capture_id": "CAP-9"}, placeholders)
	assert.NotContains(t, reduced, "capture_id")
	assert.Contains(t, reduced, "amount")
	// The original payload is untouched.
	assert.Contains(t, payload, "capture_id")

	same, placeholders := liftPlaceholder(payload, "missing", "missing")
	assert.Nil(t, placeholders)
	assert.Equal(t, payload, same)
}
