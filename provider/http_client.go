package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gopayments/payflow/infra/config"
)

const defaultTimeout = 30 * time.Second

// RequestOptions carries the call-site inputs for one outbound request.
type RequestOptions struct {
	Headers map[string]string
	Query   map[string]string
	JSON    map[string]any
	Timeout time.Duration
}

// HTTPResponse is the result of one outbound gateway call.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// Successful reports whether the provider answered with a 2xx status.
func (r *HTTPResponse) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the response body as a JSON object. A non-object or
// empty body yields a nil map without error; gateways are not uniform
// about error bodies.
func (r *HTTPResponse) JSON() map[string]any {
	if len(r.Body) == 0 {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(r.Body, &decoded); err != nil {
		return nil
	}
	return decoded
}

// Dispatcher builds and sends one HTTP request per call against a
// configured driver. Exactly one network call per invocation; retries
// are an external policy. Each driver gets its own circuit breaker so
// a dead gateway fails fast instead of tying up request handlers.
type Dispatcher struct {
	registry *config.Registry
	client   *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDispatcher creates a dispatcher over the driver registry.
func NewDispatcher(registry *config.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		// Per-request deadlines come from context; the client itself
		// carries no timeout.
		client:   &http.Client{},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *Dispatcher) breaker(driver string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.breakers[driver]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    driver,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		d.breakers[driver] = cb
	}
	return cb
}

// Send performs one outbound call for the named driver. A non-2xx
// answer is a valid HTTPResponse, not an error; only transport and
// configuration failures return errors.
func (d *Dispatcher) Send(ctx context.Context, driverName, method, path string, opts RequestOptions) (*HTTPResponse, error) {
	cfg, ok := d.registry.Driver(driverName)
	if !ok {
		return nil, &ConfigError{Driver: driverName, Err: ErrUnknownDriver}
	}
	return d.SendWithConfig(ctx, cfg, method, path, opts)
}

// SendWithConfig performs one outbound call with an explicit driver
// configuration.
func (d *Dispatcher) SendWithConfig(ctx context.Context, cfg config.DriverConfig, method, path string, opts RequestOptions) (*HTTPResponse, error) {
	if cfg.BaseURL == "" {
		return nil, &ConfigError{Driver: cfg.Name, Err: ErrNoBaseURL}
	}

	fullURL, err := buildURL(cfg.BaseURL, path, opts.Query)
	if err != nil {
		return nil, &ConfigError{Driver: cfg.Name, Err: err}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if opts.JSON != nil {
		encoded, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if opts.JSON != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	// Auth precedence: bearer, then basic auth, then none. The bearer
	// header is applied last so caller headers cannot override it.
	if cfg.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Bearer)
	} else if cfg.BasicAuth != nil {
		req.SetBasicAuth(cfg.BasicAuth.Username, cfg.BasicAuth.Password)
	}

	result, err := d.breaker(cfg.Name).Execute(func() (any, error) {
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &HTTPResponse{StatusCode: resp.StatusCode, Body: respBody}, nil
	})
	if err != nil {
		return nil, &TransportError{Driver: cfg.Name, Err: err}
	}

	return result.(*HTTPResponse), nil
}

// buildURL joins the driver base URL with a relative path and query
// parameters. The path is always treated as relative; a leading slash
// is stripped.
func buildURL(baseURL, path string, query map[string]string) (string, error) {
	full := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")

	u, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", full, err)
	}

	if len(query) > 0 {
		q := u.Query()
		for key, value := range query {
			q.Set(key, value)
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
