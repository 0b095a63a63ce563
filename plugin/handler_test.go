package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gasrelay/gasrelay/relay"
	"github.com/gasrelay/gasrelay/security"
)

// recordingProcessor captures the arguments the handler forwards.
type recordingProcessor struct {
	outcome *relay.Outcome

	tenant    *security.TenantContext
	hint      string
	signedHex string
	operation string
	gasLimit  uint64
	calls     int
}

func (p *recordingProcessor) Process(ctx context.Context, tenant *security.TenantContext,
	userWalletHint, signedHex, operation string, expectedGasLimit uint64) *relay.Outcome {
	p.calls++
	p.tenant = tenant
	p.hint = userWalletHint
	p.signedHex = signedHex
	p.operation = operation
	p.gasLimit = expectedGasLimit
	if p.outcome != nil {
		return p.outcome
	}
	return &relay.Outcome{Success: true, TxHash: "0xabc"}
}

func postRelay(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/relay/mint", strings.NewReader(body)))
	return rr
}

func TestRelayHandler_UsesDeclaredGasBudget(t *testing.T) {
	proc := &recordingProcessor{}
	op := GasOperation{Name: "mint", GasLimit: 130_000}
	h := RelayHandler(proc, op)

	// The client's expectedGasLimit must not change the enforced
	// budget, smaller or larger.
	for _, clientLimit := range []uint64{0, 50_000, 900_000} {
		rr := postRelay(t, h, `{"signedTransactionHex":"0x02f8","expectedGasLimit":`+
			strconv.FormatUint(clientLimit, 10)+`}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		if proc.gasLimit != 130_000 {
			t.Fatalf("budget with client limit %d = %d, want declared 130000",
				clientLimit, proc.gasLimit)
		}
		if proc.operation != "mint" {
			t.Fatalf("operation = %q, want route's", proc.operation)
		}
	}
}

func TestRelayHandler_ForwardsRequestFields(t *testing.T) {
	proc := &recordingProcessor{}
	h := RelayHandler(proc, GasOperation{Name: "transfer", GasLimit: 100_000})

	rr := postRelay(t, h, `{"userWalletAddress":"0x00000000000000000000000000000000000000ee","signedTransactionHex":"0xf86b"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if proc.hint != "0x00000000000000000000000000000000000000ee" || proc.signedHex != "0xf86b" {
		t.Fatalf("forwarded hint %q hex %q", proc.hint, proc.signedHex)
	}

	var outcome relay.Outcome
	if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !outcome.Success || outcome.TxHash != "0xabc" {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestRelayHandler_MissingHex(t *testing.T) {
	proc := &recordingProcessor{}
	h := RelayHandler(proc, GasOperation{Name: "mint", GasLimit: 130_000})

	rr := postRelay(t, h, `{"userWalletAddress":"0x1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if proc.calls != 0 {
		t.Fatal("engine must not run without a signed transaction")
	}
}

func TestRelayHandler_InternalErrorStatus(t *testing.T) {
	proc := &recordingProcessor{outcome: &relay.Outcome{
		Success: false,
		Error:   "internal error: boom",
		Kind:    relay.KindInternal,
	}}
	h := RelayHandler(proc, GasOperation{Name: "mint", GasLimit: 130_000})

	rr := postRelay(t, h, `{"signedTransactionHex":"0x02f8"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for internal failures", rr.Code)
	}
}
