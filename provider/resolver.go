package provider

import (
	"fmt"
	"strings"

	"github.com/gopayments/payflow/infra/config"
)

// Resolver turns an abstract action name into a concrete method, path
// and request options for a driver, using the registry's action table.
type Resolver struct {
	registry *config.Registry
}

// NewResolver creates a resolver over the driver registry.
func NewResolver(registry *config.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve resolves an action for a driver. The payload is not
// modified; placeholder extraction works on a copy and the remaining
// keys are merged into the query (GET) or JSON body (otherwise).
// Resolution is deterministic: identical inputs yield identical
// (method, path, options).
func (r *Resolver) Resolve(driver, action string, payload map[string]any, opts RequestOptions, placeholders map[string]string) (string, string, RequestOptions, error) {
	cfg, ok := r.registry.Driver(driver)
	if !ok {
		return "", "", RequestOptions{}, &ConfigError{Driver: driver, Err: ErrUnknownDriver}
	}

	spec, ok := cfg.Actions[action]
	if !ok {
		return "", "", RequestOptions{}, &ConfigError{Driver: driver, Action: action, Err: ErrUnknownAction}
	}

	remaining := make(map[string]any, len(payload))
	for key, value := range payload {
		remaining[key] = value
	}

	// Caller placeholders take precedence over config-driven extraction.
	path := spec.Path
	for name, value := range placeholders {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
	}

	// Config placeholders consume matching payload keys. Unresolved
	// {name} tokens stay verbatim; the provider rejects the malformed
	// path, which is a caller error, not ours.
	for name, payloadKey := range spec.Placeholders {
		token := "{" + name + "}"
		if !strings.Contains(path, token) {
			continue
		}
		value, ok := remaining[payloadKey]
		if !ok {
			continue
		}
		path = strings.ReplaceAll(path, token, fmt.Sprintf("%v", value))
		delete(remaining, payloadKey)
	}

	out := RequestOptions{
		Timeout: opts.Timeout,
		Headers: overlay(spec.Headers, opts.Headers),
		Query:   overlay(spec.Query, opts.Query),
	}
	if opts.JSON != nil {
		out.JSON = make(map[string]any, len(opts.JSON))
		for key, value := range opts.JSON {
			out.JSON[key] = value
		}
	}

	// Remaining payload fills gaps only: an explicitly caller-set key
	// of the same name wins. Last-write on collisions inside the
	// payload itself is accepted.
	if strings.ToUpper(spec.Method) == "GET" {
		if out.Query == nil && len(remaining) > 0 {
			out.Query = make(map[string]string, len(remaining))
		}
		for key, value := range remaining {
			if _, exists := out.Query[key]; !exists {
				out.Query[key] = fmt.Sprintf("%v", value)
			}
		}
	} else {
		if out.JSON == nil && len(remaining) > 0 {
			out.JSON = make(map[string]any, len(remaining))
		}
		for key, value := range remaining {
			if _, exists := out.JSON[key]; !exists {
				out.JSON[key] = value
			}
		}
	}

	return spec.Method, path, out, nil
}

// overlay merges caller values over config defaults; the caller wins
// on key collisions.
func overlay(defaults, callerValues map[string]string) map[string]string {
	if len(defaults) == 0 && len(callerValues) == 0 {
		return nil
	}
	merged := make(map[string]string, len(defaults)+len(callerValues))
	for key, value := range defaults {
		merged[key] = value
	}
	for key, value := range callerValues {
		merged[key] = value
	}
	return merged
}
