package plugin

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gasrelay/gasrelay/relay"
)

// stubPlugin records lifecycle calls.
type stubPlugin struct {
	name    string
	ops     []GasOperation
	initErr error

	initOrder *[]string
}

func (s *stubPlugin) Name() string                { return s.name }
func (s *stubPlugin) APIPrefix() string           { return "/api/" + s.name }
func (s *stubPlugin) Tags() []string              { return []string{s.name} }
func (s *stubPlugin) GasOperations() []GasOperation { return s.ops }

func (s *stubPlugin) Initialize(engine *relay.Engine) error {
	if s.initOrder != nil {
		*s.initOrder = append(*s.initOrder, s.name)
	}
	return s.initErr
}

func (s *stubPlugin) RegisterRoutes(mux *http.ServeMux) {}

func TestRegistry_InitOrder(t *testing.T) {
	var order []string
	r := NewRegistry(nil)
	for _, name := range []string{"alpha", "bravo", "charlie"} {
		if err := r.Register(&stubPlugin{name: name, initOrder: &order}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	if err := r.InitAll(nil); err != nil {
		t.Fatalf("InitAll: %v", err)
	}

	want := []string{"alpha", "bravo", "charlie"}
	if len(order) != len(want) {
		t.Fatalf("init order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("init order = %v, want %v", order, want)
		}
	}
}

func TestRegistry_InitFailureAborts(t *testing.T) {
	var order []string
	r := NewRegistry(nil)
	r.Register(&stubPlugin{name: "ok", initOrder: &order})
	r.Register(&stubPlugin{name: "broken", initErr: errors.New("boom"), initOrder: &order})
	r.Register(&stubPlugin{name: "never", initOrder: &order})

	if err := r.InitAll(nil); err == nil {
		t.Fatal("InitAll should fail")
	}
	for _, name := range order {
		if name == "never" {
			t.Fatal("plugin after the failure was initialized")
		}
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&stubPlugin{name: "dup"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(&stubPlugin{name: "dup"}); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestRegistry_RegisterAfterInit(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.InitAll(nil); err != nil {
		t.Fatalf("InitAll: %v", err)
	}
	if err := r.Register(&stubPlugin{name: "late"}); err == nil {
		t.Fatal("registration after init accepted")
	}
}

func TestRegistry_GasOperations(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubPlugin{name: "a", ops: []GasOperation{
		{Name: "transfer", GasLimit: 100_000},
		{Name: "mint", GasLimit: 130_000},
	}})
	r.Register(&stubPlugin{name: "b", ops: []GasOperation{
		{Name: "burn", GasLimit: 90_000},
	}})

	all := r.AllGasOperations()
	if len(all) != 3 {
		t.Fatalf("operations = %v", all)
	}
	if all[0].Name != "transfer" || all[2].Name != "burn" {
		t.Fatalf("operation order = %v", all)
	}

	op := r.FindOperation("mint")
	if op == nil || op.GasLimit != 130_000 {
		t.Fatalf("FindOperation(mint) = %v", op)
	}
	if r.FindOperation("unknown") != nil {
		t.Fatal("unknown operation resolved")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubPlugin{name: "x"})
	r.Register(&stubPlugin{name: "y"})

	names := r.Names()
	if len(names) != 2 || names[0] != "x" || names[1] != "y" {
		t.Fatalf("names = %v", names)
	}
}
