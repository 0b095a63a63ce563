// Package transfer is the built-in relay plugin. It exposes the
// generic operation set (plain transfers, contract calls, minting)
// under /api/relay; business-specific plugins follow the same shape in
// their own packages.
package transfer

import (
	"errors"
	"net/http"

	"github.com/gasrelay/gasrelay/plugin"
	"github.com/gasrelay/gasrelay/relay"
)

const apiPrefix = "/api/relay"

var operations = []plugin.GasOperation{
	{Name: "transfer", GasLimit: 100_000, FunctionTag: "nativeTransfer"},
	{Name: "contract-call", GasLimit: 300_000, FunctionTag: "genericCall"},
	{Name: "mint", GasLimit: 130_000, FunctionTag: "mint"},
}

// Plugin implements plugin.Plugin.
type Plugin struct {
	engine *relay.Engine
}

// New creates the built-in transfer plugin.
func New() *Plugin {
	return &Plugin{}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "transfer" }

// APIPrefix implements plugin.Plugin.
func (p *Plugin) APIPrefix() string { return apiPrefix }

// Tags implements plugin.Plugin.
func (p *Plugin) Tags() []string { return []string{"relay", "transfer"} }

// GasOperations implements plugin.Plugin.
func (p *Plugin) GasOperations() []plugin.GasOperation {
	out := make([]plugin.GasOperation, len(operations))
	copy(out, operations)
	return out
}

// Initialize implements plugin.Plugin.
func (p *Plugin) Initialize(engine *relay.Engine) error {
	if engine == nil {
		return errors.New("transfer: nil relay engine")
	}
	p.engine = engine
	return nil
}

// RegisterRoutes mounts one POST route per declared operation.
func (p *Plugin) RegisterRoutes(mux *http.ServeMux) {
	for _, op := range p.GasOperations() {
		mux.Handle("POST "+apiPrefix+"/"+op.Name, plugin.RelayHandler(p.engine, op))
	}
}
