package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopayments/payflow/infra/config"
)

func registryForServer(t *testing.T, serverURL string, mutate func(*config.DriverConfig)) *config.Registry {
	t.Helper()
	driver := config.DriverConfig{
		Name:    "acme",
		BaseURL: serverURL,
		Actions: map[string]config.ActionSpec{
			"pay": {Method: "POST", Path: "/charges"},
		},
	}
	if mutate != nil {
		mutate(&driver)
	}
	registry, err := config.NewRegistry([]config.DriverConfig{driver}, "acme")
	require.NoError(t, err)
	return registry
}

func TestSendBuildsRequest(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ch_1"}`))
	}))
	defer server.Close()

	registry := registryForServer(t, server.URL, func(d *config.DriverConfig) {
		d.Bearer = "sk_test"
		d.Headers = map[string]string{"X-Version": "2024-01"}
	})
	d := NewDispatcher(registry)

	resp, err := d.Send(context.Background(), "acme", "POST", "/charges", RequestOptions{
		JSON:    map[string]any{"amount": 100},
		Query:   map[string]string{"expand": "balance"},
		Headers: map[string]string{"X-Request-Id": "r1"},
	})
	require.NoError(t, err)

	assert.True(t, resp.Successful())
	assert.Equal(t, map[string]any{"id": "ch_1"}, resp.JSON())

	require.NotNil(t, got)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/charges", got.URL.Path)
	assert.Equal(t, "balance", got.URL.Query().Get("expand"))
	assert.Equal(t, "Bearer sk_test", got.Header.Get("Authorization"))
	assert.Equal(t, "2024-01", got.Header.Get("X-Version"))
	assert.Equal(t, "r1", got.Header.Get("X-Request-Id"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, float64(100), body["amount"])
}

func TestSendBearerCannotBeOverridden(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	registry := registryForServer(t, server.URL, func(d *config.DriverConfig) {
		d.Bearer = "real-token"
	})
	d := NewDispatcher(registry)

	_, err := d.Send(context.Background(), "acme", "POST", "/charges", RequestOptions{
		Headers: map[string]string{"Authorization": "Bearer forged"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer real-token", auth)
}

func TestSendBasicAuth(t *testing.T) {
	var user, pass string
	var ok bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
	}))
	defer server.Close()

	registry := registryForServer(t, server.URL, func(d *config.DriverConfig) {
		d.BasicAuth = &config.BasicAuth{Username: "client", Password: "secret"}
	})
	d := NewDispatcher(registry)

	_, err := d.Send(context.Background(), "acme", "POST", "/charges", RequestOptions{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "client", user)
	assert.Equal(t, "secret", pass)
}

func TestSendNon2xxIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":"insufficient funds"}`))
	}))
	defer server.Close()

	d := NewDispatcher(registryForServer(t, server.URL, nil))

	resp, err := d.Send(context.Background(), "acme", "POST", "/charges", RequestOptions{})
	require.NoError(t, err)
	assert.False(t, resp.Successful())
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient funds", resp.JSON()["error"])
}

func TestSendTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // immediately, so the dial fails

	d := NewDispatcher(registryForServer(t, server.URL, nil))

	_, err := d.Send(context.Background(), "acme", "POST", "/charges", RequestOptions{})
	require.Error(t, err)

	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestSendTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	d := NewDispatcher(registryForServer(t, server.URL, nil))

	_, err := d.Send(context.Background(), "acme", "POST", "/charges", RequestOptions{
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)

	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestSendMissingBaseURL(t *testing.T) {
	d := NewDispatcher(registryForServer(t, "http://placeholder", nil))

	_, err := d.SendWithConfig(context.Background(), config.DriverConfig{Name: "bare"}, "POST", "/x", RequestOptions{})
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

func TestSendUnknownDriver(t *testing.T) {
	d := NewDispatcher(registryForServer(t, "http://placeholder", nil))

	_, err := d.Send(context.Background(), "ghost", "POST", "/x", RequestOptions{})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		path    string
		query   map[string]string
		want    string
	}{
		{
			name:    "relative path joined",
			baseURL: "https://api.acme.test",
			path:    "/v1/charges",
			want:    "https://api.acme.test/v1/charges",
		},
		{
			name:    "trailing and leading slashes collapse",
			baseURL: "https://api.acme.test/",
			path:    "v1/charges",
			want:    "https://api.acme.test/v1/charges",
		},
		{
			name:    "base path preserved",
			baseURL: "https://accept.paymob.test/api",
			path:    "/acceptance/transactions",
			want:    "https://accept.paymob.test/api/acceptance/transactions",
		},
		{
			name:    "query encoded",
			baseURL: "https://api.acme.test",
			path:    "/v1/charges",
			query:   map[string]string{"q": "a b"},
			want:    "https://api.acme.test/v1/charges?q=a+b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildURL(tt.baseURL, tt.path, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	d := NewDispatcher(registryForServer(t, server.URL, nil))

	for i := 0; i < 5; i++ {
		_, err := d.Send(context.Background(), "acme", "POST", "/charges", RequestOptions{})
		require.Error(t, err)
	}

	// The breaker is open now; the call fails without dialing.
	_, err := d.Send(context.Background(), "acme", "POST", "/charges", RequestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}
