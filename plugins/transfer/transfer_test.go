package transfer

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gasrelay/gasrelay/relay"
)

func newInitializedPlugin(t *testing.T) *Plugin {
	t.Helper()
	p := New()
	engine := relay.New(nil, nil, nil, big.NewInt(1), relay.Config{}, nil, nil, nil)
	if err := p.Initialize(engine); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestPlugin_Declarations(t *testing.T) {
	p := New()
	if p.Name() != "transfer" {
		t.Fatalf("name = %q", p.Name())
	}
	if p.APIPrefix() != "/api/relay" {
		t.Fatalf("prefix = %q", p.APIPrefix())
	}

	ops := p.GasOperations()
	if len(ops) != 3 {
		t.Fatalf("operations = %v", ops)
	}
	budgets := map[string]uint64{}
	for _, op := range ops {
		budgets[op.Name] = op.GasLimit
	}
	if budgets["transfer"] != 100_000 || budgets["contract-call"] != 300_000 || budgets["mint"] != 130_000 {
		t.Fatalf("budgets = %v", budgets)
	}
}

func TestPlugin_OperationsAreCopies(t *testing.T) {
	p := New()
	ops := p.GasOperations()
	ops[0].GasLimit = 1
	if p.GasOperations()[0].GasLimit == 1 {
		t.Fatal("caller mutated the plugin's operation table")
	}
}

func TestPlugin_InitializeNilEngine(t *testing.T) {
	if err := New().Initialize(nil); err == nil {
		t.Fatal("nil engine accepted")
	}
}

func TestPlugin_Routes(t *testing.T) {
	p := newInitializedPlugin(t)
	mux := http.NewServeMux()
	p.RegisterRoutes(mux)

	// Malformed body stops at request parsing, before the engine runs.
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/relay/transfer",
		strings.NewReader("{not json")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("transfer bad body status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/relay/mint",
		strings.NewReader(`{"userWalletAddress":"0x1"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("mint missing hex status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/relay/transfer", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/relay/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown operation status = %d, want 404", rr.Code)
	}
}
