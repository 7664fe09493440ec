package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kilupskalvis/listings/internal/listing"
)

// Config holds configurable limits for the server.
type Config struct {
	MaxRequestBody    int64  // bytes, for JSON endpoints
	RequestsPerMinute int    // per-token rate limit
	AdminToken        string // for admin endpoints
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRequestBody:    1 << 20, // 1MB
		RequestsPerMinute: 300,
	}
}

// api bundles what the house handlers need.
type api struct {
	svc    *listing.Service
	cfg    *Config
	logger *slog.Logger
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown. metrics may be nil.
func Handler(svc *listing.Service, tokens TokenStore, cfg *Config, metrics *Metrics, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	a := &api{svc: svc, cfg: cfg, logger: logger}
	rl := newRateLimiter(cfg.RequestsPerMinute)
	auth := authMiddleware(tokens, logger)

	// applyMiddleware reverses the list, so the first item runs outermost.
	// Execution order: auth -> rl -> handler
	read := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, rl.middleware)
	}
	// Execution order: auth -> requireWrite -> rl -> handler
	write := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, requireWrite, rl.middleware)
	}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: store unavailable"))
			return
		}
		if _, err := tokens.ListTokens(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: token store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/tokens", makeAdminCreateTokenHandler(tokens, logger))
		adminMux.HandleFunc("DELETE /admin/tokens/{id}", makeAdminDeleteTokenHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/tokens", makeAdminListTokensHandler(tokens, logger))
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Queries
	mux.Handle("GET /api/v1/houses", read(a.handleList))
	mux.Handle("GET /api/v1/houses/available", read(a.handleListAvailable))
	mux.Handle("GET /api/v1/houses/search", read(a.handleSearch))
	mux.Handle("GET /api/v1/houses/search/price", read(a.handleSearchPrice))
	mux.Handle("GET /api/v1/houses/sorted", read(a.handleSorted))
	mux.Handle("GET /api/v1/houses/{id}", read(a.handleGet))
	mux.Handle("GET /api/v1/houses/{id}/availability", read(a.handleAvailability))
	mux.Handle("GET /api/v1/houses/{id}/history", read(a.handleHistory))

	// Mutations
	mux.Handle("POST /api/v1/houses", write(a.handleCreate))
	mux.Handle("PUT /api/v1/houses/{id}", write(a.handleUpdate))
	mux.Handle("DELETE /api/v1/houses/{id}", write(a.handleDelete))
	mux.Handle("POST /api/v1/houses/{id}/buy", write(a.handleBuy))
	mux.Handle("POST /api/v1/houses/{id}/available", write(a.handleSetAvailable))
	mux.Handle("POST /api/v1/houses/{id}/unavailable", write(a.handleSetUnavailable))
	mux.Handle("PUT /api/v1/houses/{id}/price", write(a.handleSetPrice))

	// Apply global middleware
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
		metrics.middleware,
	)

	cleanup := func() {
		rl.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "auth_failed", Message: "invalid admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: string(listing.KindInvalidInput), Message: msg})
}

// statusFor maps a listing error kind to its HTTP status.
func statusFor(kind listing.Kind) int {
	switch kind {
	case listing.KindNotFound:
		return http.StatusNotFound
	case listing.KindInvalidInput:
		return http.StatusBadRequest
	case listing.KindAuthenticationFailed:
		return http.StatusForbidden
	case listing.KindNoUnitAvailable:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders a service error. Business errors carry their kind;
// anything else is an internal error and gets logged.
func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var le *listing.Error
	if errors.As(err, &le) {
		writeJSON(w, statusFor(le.Kind), errorBody{Error: string(le.Kind), Message: le.Message})
		return
	}
	a.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", requestID(r))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: err.Error()})
}

// --- Admin Token Handlers ---

func makeAdminCreateTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Description string `json:"description"`
			Principal   string `json:"principal"`
			Permission  string `json:"permission"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid JSON"})
			return
		}
		if req.Principal == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "principal is required"})
			return
		}
		if req.Permission == "" {
			req.Permission = PermissionRead
		}
		if req.Permission != PermissionRead && req.Permission != PermissionReadWrite {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "permission must be 'ro' or 'rw'"})
			return
		}

		rawToken, info, err := tokens.CreateToken(req.Description, req.Principal, req.Permission)
		if err != nil {
			logger.Error("create token", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: err.Error()})
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"token":       rawToken,
			"id":          info.ID,
			"principal":   info.Principal,
			"description": info.Desc,
			"permission":  info.Permission,
		})
	}
}

// tokenEntry is the public view of a token: metadata only, no hash.
type tokenEntry struct {
	ID          string `json:"id"`
	Principal   string `json:"principal"`
	Description string `json:"description"`
	Permission  string `json:"permission"`
}

func makeAdminListTokensHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.ListTokens()
		if err != nil {
			logger.Error("list tokens", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: err.Error()})
			return
		}

		entries := make([]tokenEntry, len(list))
		for i, t := range list {
			entries[i] = tokenEntry{
				ID:          t.ID,
				Principal:   t.Principal,
				Description: t.Desc,
				Permission:  t.Permission,
			}
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func makeAdminDeleteTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := tokens.DeleteToken(id); err != nil {
			logger.Warn("delete token", "error", err, "token_id", id)
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
