package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ActionSpec describes how an abstract action name maps onto a concrete
// HTTP call for one driver.
type ActionSpec struct {
	Method string `yaml:"method" json:"method" validate:"required,oneof=GET POST PUT"`
	Path   string `yaml:"path" json:"path" validate:"required"`

	// Placeholders maps a {name} token in Path to the payload key whose
	// value fills it. The payload key is consumed during resolution.
	Placeholders map[string]string `yaml:"placeholders,omitempty" json:"placeholders,omitempty"`

	// Default headers and query parameters for this action. Caller
	// options overlay these.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
}

// BasicAuth is a username/password pair for drivers that do not use
// bearer tokens.
type BasicAuth struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DriverConfig is the static configuration of one payment driver.
// Bearer and BasicAuth are mutually exclusive; bearer wins when both
// are present (mirrors the dispatcher's auth precedence).
type DriverConfig struct {
	Name           string                `yaml:"name" json:"name" validate:"required"`
	BaseURL        string                `yaml:"base_url" json:"baseUrl"`
	Bearer         string                `yaml:"bearer,omitempty" json:"bearer,omitempty"`
	BasicAuth      *BasicAuth            `yaml:"basic_auth,omitempty" json:"basicAuth,omitempty"`
	Headers        map[string]string     `yaml:"headers,omitempty" json:"headers,omitempty"`
	TimeoutSeconds int                   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	WebhookToken   string                `yaml:"webhook_token,omitempty" json:"webhookToken,omitempty"`
	WebhookSecret  string                `yaml:"webhook_secret,omitempty" json:"webhookSecret,omitempty"`
	WebhookRoute   string                `yaml:"webhook_route,omitempty" json:"webhookRoute,omitempty"`
	WebhookMethods []string              `yaml:"webhook_methods,omitempty" json:"webhookMethods,omitempty"`
	Actions        map[string]ActionSpec `yaml:"actions" json:"actions" validate:"required,min=1"`
}

// registryFile is the on-disk shape of a drivers.yaml file.
type registryFile struct {
	Default string                  `yaml:"default"`
	Drivers map[string]DriverConfig `yaml:"drivers"`
}

// Registry is the immutable table of configured drivers. It is built
// once at startup and passed by reference; nothing mutates it afterwards.
type Registry struct {
	drivers       map[string]DriverConfig
	defaultDriver string
}

// NewRegistry validates the given driver configurations and builds a
// registry. Every driver must define at least a "pay" action.
func NewRegistry(drivers []DriverConfig, defaultDriver string) (*Registry, error) {
	validate := validator.New()
	table := make(map[string]DriverConfig, len(drivers))

	for _, d := range drivers {
		if err := validate.Struct(d); err != nil {
			return nil, fmt.Errorf("driver %q: %w", d.Name, err)
		}
		if _, ok := d.Actions["pay"]; !ok {
			return nil, fmt.Errorf("driver %q: action %q is required", d.Name, "pay")
		}
		if d.Bearer != "" && d.BasicAuth != nil {
			return nil, fmt.Errorf("driver %q: bearer and basic_auth are mutually exclusive", d.Name)
		}
		for name, action := range d.Actions {
			if err := validate.Struct(action); err != nil {
				return nil, fmt.Errorf("driver %q action %q: %w", d.Name, name, err)
			}
		}
		if d.TimeoutSeconds == 0 {
			d.TimeoutSeconds = 30
		}
		table[strings.ToLower(d.Name)] = d
	}

	defaultDriver = strings.ToLower(defaultDriver)
	if defaultDriver != "" {
		if _, ok := table[defaultDriver]; !ok {
			return nil, fmt.Errorf("default driver %q is not configured", defaultDriver)
		}
	}

	return &Registry{drivers: table, defaultDriver: defaultDriver}, nil
}

// LoadRegistryFile builds a registry from a drivers.yaml file.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read drivers file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse drivers file: %w", err)
	}

	drivers := make([]DriverConfig, 0, len(file.Drivers))
	for name, d := range file.Drivers {
		if d.Name == "" {
			d.Name = name
		}
		drivers = append(drivers, d)
	}

	return NewRegistry(drivers, file.Default)
}

// Driver returns the configuration for a driver name.
func (r *Registry) Driver(name string) (DriverConfig, bool) {
	d, ok := r.drivers[strings.ToLower(name)]
	return d, ok
}

// DefaultDriver returns the configured default driver name.
func (r *Registry) DefaultDriver() string {
	return r.defaultDriver
}

// DriverNames returns all configured driver names, sorted.
func (r *Registry) DriverNames() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultDrivers returns the built-in driver table with credentials
// resolved from the environment. Used when no drivers file is set.
func DefaultDrivers() []DriverConfig {
	return []DriverConfig{
		{
			Name:           "myfatoorah",
			BaseURL:        GetEnv("MYFATOORAH_BASE_URL", "https://apitest.myfatoorah.com"),
			Bearer:         GetEnv("MYFATOORAH_TOKEN", ""),
			WebhookToken:   GetEnv("MYFATOORAH_WEBHOOK_TOKEN", ""),
			WebhookRoute:   GetEnv("MYFATOORAH_WEBHOOK_ROUTE", ""),
			WebhookMethods: []string{"POST", "GET"},
			Headers:        map[string]string{"Content-Type": "application/json"},
			TimeoutSeconds: 30,
			Actions: map[string]ActionSpec{
				"pay":    {Method: "POST", Path: "/v2/ExecutePayment"},
				"refund": {Method: "POST", Path: "/v2/MakeRefund"},
				"status": {Method: "GET", Path: "/v2/GetPaymentStatus"},
			},
		},
		{
			Name:           "paymob",
			BaseURL:        GetEnv("PAYMOB_BASE_URL", "https://accept.paymob.com/api"),
			Bearer:         GetEnv("PAYMOB_TOKEN", ""),
			WebhookToken:   GetEnv("PAYMOB_WEBHOOK_TOKEN", ""),
			WebhookRoute:   GetEnv("PAYMOB_WEBHOOK_ROUTE", ""),
			WebhookMethods: []string{"POST"},
			Headers:        map[string]string{"Content-Type": "application/json"},
			TimeoutSeconds: 30,
			Actions: map[string]ActionSpec{
				"pay":    {Method: "POST", Path: "/acceptance/payment_keys"},
				"refund": {Method: "POST", Path: "/acceptance/payments/refund"},
				"status": {Method: "GET", Path: "/acceptance/transactions"},
			},
		},
		{
			Name:    "paypal",
			BaseURL: GetEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			BasicAuth: &BasicAuth{
				Username: GetEnv("PAYPAL_CLIENT_ID", ""),
				Password: GetEnv("PAYPAL_SECRET", ""),
			},
			WebhookToken:   GetEnv("PAYPAL_WEBHOOK_TOKEN", ""),
			Headers:        map[string]string{"Content-Type": "application/json"},
			TimeoutSeconds: 30,
			Actions: map[string]ActionSpec{
				"pay":    {Method: "POST", Path: "/v2/checkout/orders"},
				"refund": {Method: "POST", Path: "/v2/payments/captures/{capture_id}/refund", Placeholders: map[string]string{"capture_id": "capture_id"}},
				"status": {Method: "GET", Path: "/v2/checkout/orders/{order_id}", Placeholders: map[string]string{"order_id": "order_id"}},
			},
		},
		{
			Name:           "stripe",
			BaseURL:        GetEnv("STRIPE_BASE_URL", "https://api.stripe.com/v1"),
			Bearer:         GetEnv("STRIPE_SECRET_KEY", ""),
			WebhookToken:   GetEnv("STRIPE_WEBHOOK_TOKEN", ""),
			WebhookSecret:  GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			TimeoutSeconds: 30,
			Actions: map[string]ActionSpec{
				"pay":    {Method: "POST", Path: "/payment_intents"},
				"refund": {Method: "POST", Path: "/refunds"},
				"status": {Method: "GET", Path: "/payment_intents/{id}", Placeholders: map[string]string{"id": "id"}},
			},
		},
	}
}
