// Package plugin defines the contract between the relay core and
// business operations. Plugins declare their gas budgets and HTTP
// routes; the registry initializes them once, in registration order,
// and is immutable afterwards.
package plugin

import (
	"fmt"
	"net/http"

	"github.com/gasrelay/gasrelay/log"
	"github.com/gasrelay/gasrelay/relay"
)

// GasOperation is one operation a plugin exposes, with its expected gas
// budget. The policy buffers the budget by 20% before enforcing it.
type GasOperation struct {
	// Name identifies the operation in relay requests and the
	// gas-costs endpoint.
	Name string `json:"operation"`

	// GasLimit is the expected gas consumption.
	GasLimit uint64 `json:"gasLimit"`

	// FunctionTag names the underlying contract function, for
	// documentation only.
	FunctionTag string `json:"functionTag,omitempty"`
}

// Plugin is implemented by every business operation package.
type Plugin interface {
	// Name is a unique plugin identifier.
	Name() string

	// APIPrefix is the route prefix for the plugin's endpoints.
	APIPrefix() string

	// Tags annotate the plugin's endpoints for API listings.
	Tags() []string

	// GasOperations declares the plugin's operations and budgets.
	GasOperations() []GasOperation

	// Initialize hands the plugin its relay engine. Called exactly
	// once; an error aborts service startup.
	Initialize(engine *relay.Engine) error

	// RegisterRoutes mounts the plugin's HTTP handlers.
	RegisterRoutes(mux *http.ServeMux)
}

// Registry collects plugins at startup.
type Registry struct {
	plugins     []Plugin
	byName      map[string]Plugin
	initialized bool
	logger      *log.Logger
}

// NewRegistry creates an empty plugin registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default().Module("plugin")
	}
	return &Registry{
		byName: make(map[string]Plugin),
		logger: logger,
	}
}

// Register adds a plugin. Registration after InitAll or with a
// duplicate name is a programming error.
func (r *Registry) Register(p Plugin) error {
	if r.initialized {
		return fmt.Errorf("plugin: registry already initialized, cannot register %q", p.Name())
	}
	if _, dup := r.byName[p.Name()]; dup {
		return fmt.Errorf("plugin: duplicate plugin name %q", p.Name())
	}
	r.plugins = append(r.plugins, p)
	r.byName[p.Name()] = p
	return nil
}

// InitAll initializes plugins in registration order. The first failure
// aborts; the registry becomes immutable afterwards either way.
func (r *Registry) InitAll(engine *relay.Engine) error {
	r.initialized = true
	for _, p := range r.plugins {
		if err := p.Initialize(engine); err != nil {
			return fmt.Errorf("plugin: initialize %q: %w", p.Name(), err)
		}
		r.logger.Info("plugin initialized", "name", p.Name(), "prefix", p.APIPrefix(),
			"operations", len(p.GasOperations()))
	}
	return nil
}

// Active returns the registered plugins in registration order.
func (r *Registry) Active() []Plugin {
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Names returns the registered plugin names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		names[i] = p.Name()
	}
	return names
}

// AllGasOperations flattens every plugin's declared operations, in
// registration order. The gas-costs endpoint serves this.
func (r *Registry) AllGasOperations() []GasOperation {
	var out []GasOperation
	for _, p := range r.plugins {
		out = append(out, p.GasOperations()...)
	}
	return out
}

// FindOperation returns the budget for an operation name, or nil.
func (r *Registry) FindOperation(name string) *GasOperation {
	for _, p := range r.plugins {
		for _, op := range p.GasOperations() {
			if op.Name == name {
				return &op
			}
		}
	}
	return nil
}

// RegisterRoutes mounts every plugin's handlers on mux.
func (r *Registry) RegisterRoutes(mux *http.ServeMux) {
	for _, p := range r.plugins {
		p.RegisterRoutes(mux)
	}
}
