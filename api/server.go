// Package api assembles the public HTTP surface: plugin relay routes
// behind the auth gate, plus unauthenticated health and status
// endpoints and the gas cost listing.
package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gasrelay/gasrelay/chain"
	"github.com/gasrelay/gasrelay/config"
	"github.com/gasrelay/gasrelay/log"
	"github.com/gasrelay/gasrelay/metrics"
	"github.com/gasrelay/gasrelay/plugin"
	"github.com/gasrelay/gasrelay/priceoracle"
	"github.com/gasrelay/gasrelay/security"
)

// Server is the relay's HTTP front. Construct with New, then Start.
type Server struct {
	cfg      *config.Config
	client   chain.Client
	registry *plugin.Registry
	store    *security.Store
	metrics  *metrics.Registry
	oracle   priceoracle.Oracle
	logger   *log.Logger

	handler http.Handler
	srv     *http.Server
	started time.Time
}

// New builds the server and its route table. The security store may be
// nil only when auth is disabled in the configuration; the oracle may
// always be nil.
func New(cfg *config.Config, client chain.Client, registry *plugin.Registry,
	store *security.Store, reg *metrics.Registry, oracle priceoracle.Oracle,
	logger *log.Logger) *Server {

	if logger == nil {
		logger = log.Default().Module("api")
	}
	s := &Server{
		cfg:      cfg,
		client:   client,
		registry: registry,
		store:    store,
		metrics:  reg,
		oracle:   oracle,
		logger:   logger,
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /actuator/health", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /gas-costs", s.handleGasCosts)
	registry.RegisterRoutes(mux)

	mws := []Middleware{Recovery(logger), RequestLogging(logger)}
	if cfg.Security.Enabled && store != nil {
		mws = append(mws, Auth(store, reg, logger))
	}
	s.handler = Chain(mux, mws...)

	return s
}

// Handler exposes the fully wrapped route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start runs the HTTP server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}
	s.logger.Info("http server listening", "addr", s.cfg.HTTP.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ---------------------------------------------------------------------
// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "UP",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   s.cfg.ServiceName,
		"plugins":   s.registry.Names(),
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("pong"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"service":   s.cfg.ServiceName,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"metrics":   s.metrics.Snapshot(),
	}
	if s.store != nil {
		snap := s.store.Snapshot()
		body["security"] = map[string]any{
			"keys":     snap.KeyCount(),
			"loadedAt": snap.LoadedAt().UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// gasCostEntry is one row of the gas-costs listing.
type gasCostEntry struct {
	Operation    string `json:"operation"`
	GasLimit     uint64 `json:"gasLimit"`
	GasPriceWei  string `json:"gasPriceWei"`
	TotalCostWei string `json:"totalCostWei"`
	NativeCost   string `json:"totalCostNative"`
	USDCost      string `json:"totalCostUsd,omitempty"`
}

// handleGasCosts lists every registered operation priced at the current
// network gas rate. An unreachable node degrades to the configured
// minimum price rather than failing the endpoint.
func (s *Server) handleGasCosts(w http.ResponseWriter, r *http.Request) {
	price, err := s.client.SuggestGasPrice(r.Context())
	if err != nil || price == nil || price.Sign() <= 0 {
		price = new(big.Int).SetUint64(s.cfg.Gas.MinimumGasPriceWei)
	}

	var usd *decimal.Decimal
	if s.oracle != nil {
		if quote, err := s.oracle.Quote(r.Context()); err == nil {
			usd = &quote.USD
		}
	}

	ops := s.registry.AllGasOperations()
	entries := make([]gasCostEntry, 0, len(ops))
	for _, op := range ops {
		total := new(big.Int).Mul(price, new(big.Int).SetUint64(op.GasLimit))
		entry := gasCostEntry{
			Operation:    op.Name,
			GasLimit:     op.GasLimit,
			GasPriceWei:  price.String(),
			TotalCostWei: total.String(),
			NativeCost:   priceoracle.NativeAmount(total).String(),
		}
		if usd != nil {
			entry.USDCost = priceoracle.NativeAmount(total).Mul(*usd).StringFixed(6)
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"gasPriceWei": price.String(),
		"operations":  entries,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ---------------------------------------------------------------------
// Response helpers

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// errorBody is the uniform JSON error shape of the HTTP surface.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
