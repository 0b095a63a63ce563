package api

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gasrelay/gasrelay/log"
	"github.com/gasrelay/gasrelay/metrics"
	"github.com/gasrelay/gasrelay/security"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first listed runs outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// bypassPaths are served without authentication. Health probes and
// status checks must work before any key is provisioned.
var bypassPaths = map[string]bool{
	"/health":          true,
	"/ping":            true,
	"/status":          true,
	"/actuator/health": true,
}

// Recovery converts handler panics into a 500 response instead of
// killing the connection.
func Recovery(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default().Module("api")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", "path", r.URL.Path,
						"panic", rec, "stack", string(debug.Stack()))
					writeError(w, http.StatusInternalServerError,
						"internal_error", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLogging logs one line per request with method, path, status
// and duration.
func RequestLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default().Module("api")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"ip", clientIP(r),
				"duration", time.Since(start).Round(time.Millisecond).String(),
			)
		})
	}
}

// Auth validates the API key and client IP against the current security
// snapshot and attaches the tenant to the request context. Health and
// status paths bypass the gate.
func Auth(store *security.Store, reg *metrics.Registry, logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default().Module("api")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			snap := store.Snapshot()
			settings := snap.Settings()
			ip := clientIP(r)
			key := extractAPIKey(r)

			// When keys are not required, every request passes through,
			// whatever key material it carries. A key that happens to
			// resolve still identifies the tenant.
			if !settings.RequireAPIKey {
				if rec := snap.Lookup(key); rec != nil {
					tenant := &security.TenantContext{
						APIKeyName: rec.Name,
						ClientIP:   ip,
						Wallet:     rec.Wallet,
					}
					r = r.WithContext(security.ContextWithTenant(r.Context(), tenant))
				}
				next.ServeHTTP(w, r)
				return
			}

			if key == "" {
				rejectAuth(w, reg, logger, settings, ip, "missing API key")
				return
			}

			rec := snap.Lookup(key)
			if rec == nil {
				rejectAuth(w, reg, logger, settings, ip, "unknown or disabled API key")
				return
			}
			if settings.EnforceIPWhitelist && !snap.IsAllowed(ip, rec) {
				rejectAuth(w, reg, logger, settings, ip, "client IP not allowed for key "+rec.Name)
				return
			}

			tenant := &security.TenantContext{
				APIKeyName: rec.Name,
				ClientIP:   ip,
				Wallet:     rec.Wallet,
			}
			next.ServeHTTP(w, r.WithContext(
				security.ContextWithTenant(r.Context(), tenant)))
		})
	}
}

func rejectAuth(w http.ResponseWriter, reg *metrics.Registry, logger *log.Logger,
	settings security.Settings, ip, reason string) {
	if reg != nil {
		reg.Counter(metrics.AuthRejected).Inc()
	}
	if settings.LogFailedAttempts {
		logger.Warn("authentication rejected", "ip", ip, "reason", reason)
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing API key")
}

// extractAPIKey checks, in order, the X-API-Key header, an
// Authorization bearer token, and the api_key query parameter.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return auth[len(prefix):]
		}
	}
	return r.URL.Query().Get("api_key")
}

// proxyHeaders are consulted in order for the original client address.
var proxyHeaders = []string{"X-Real-IP", "X-Client-IP", "CF-Connecting-IP", "True-Client-IP"}

// clientIP resolves the client address behind proxies. X-Forwarded-For
// wins with its first (leftmost) entry, then the single-value proxy
// headers, then the TCP peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, h := range proxyHeaders {
		if ip := strings.TrimSpace(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
