package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gasrelay/gasrelay/relay"
	"github.com/gasrelay/gasrelay/security"
)

// RelayRequest is the JSON body accepted by every relay endpoint.
type RelayRequest struct {
	UserWalletAddress    string `json:"userWalletAddress"`
	SignedTransactionHex string `json:"signedTransactionHex"`
	OperationName        string `json:"operationName"`
	ExpectedGasLimit     uint64 `json:"expectedGasLimit,omitempty"`
}

// Processor runs one relay request. *relay.Engine satisfies it.
type Processor interface {
	Process(ctx context.Context, tenant *security.TenantContext, userWalletHint, signedHex, operation string, expectedGasLimit uint64) *relay.Outcome
}

// RelayHandler returns an http.HandlerFunc that runs op through the
// engine with the plugin's declared gas budget. Plugins mount it under
// their prefix so every operation shares the same request contract.
func RelayHandler(engine Processor, op GasOperation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
			return
		}

		var req RelayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
			return
		}
		if req.SignedTransactionHex == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "signedTransactionHex is required")
			return
		}

		// The route decides both the operation and its gas budget; the
		// body's operation name and expectedGasLimit are informational
		// and never influence enforcement.
		tenant := security.TenantFromContext(r.Context())
		outcome := engine.Process(r.Context(), tenant, req.UserWalletAddress,
			req.SignedTransactionHex, op.Name, op.GasLimit)

		status := http.StatusOK
		if !outcome.Success && outcome.Kind == relay.KindInternal {
			status = http.StatusInternalServerError
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(outcome)
	}
}

// errorBody is the uniform JSON error shape of the HTTP surface.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
