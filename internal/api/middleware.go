package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey int

const runtimeCtxKey contextKey = iota

// authRuntime holds the authenticated runtime context for a request.
type authRuntime struct {
	ID       string
	Name     string
	Mode     string
	FailOpen bool
}

// runtimeFromContext extracts the authenticated runtime from the request context.
func runtimeFromContext(ctx context.Context) *authRuntime {
	v, _ := ctx.Value(runtimeCtxKey).(*authRuntime)
	return v
}

// errUnknownKey marks a credential problem, as opposed to an
// infrastructure failure. Unknown keys are always 401, never fail-open.
var errUnknownKey = errors.New("unknown API key")

// --- Auth cache (stale-while-revalidate) ---

type cacheEntry struct {
	runtime    *authRuntime
	expiresAt  time.Time
	refreshing atomic.Bool
}

type authCache struct {
	store sync.Map // map[string]*cacheEntry (keyed by full API key)
	ttl   time.Duration
}

func newAuthCache(ttl time.Duration) *authCache {
	return &authCache{ttl: ttl}
}

func (c *authCache) get(key string) (rt *authRuntime, hit bool, needsRefresh bool) {
	v, ok := c.store.Load(key)
	if !ok {
		return nil, false, false
	}
	entry := v.(*cacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return entry.runtime, true, false // fresh
	}
	// Stale — return value but signal refresh needed (only one goroutine refreshes)
	needsRefresh = entry.refreshing.CompareAndSwap(false, true)
	return entry.runtime, true, needsRefresh
}

func (c *authCache) set(key string, rt *authRuntime) {
	c.store.Store(key, &cacheEntry{
		runtime:   rt,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// --- Auth middleware ---

// newAuthMiddleware returns a middleware that validates Bearer wsk_ keys
// and injects the authenticated runtime into the request context. All
// wrapped routes share one stale-while-revalidate cache.
func (d *Dependencies) newAuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	cache := newAuthCache(d.CacheTTL)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key, ok := extractBearerToken(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid Authorization header"})
				return
			}
			if len(key) < 8 || !strings.HasPrefix(key, "wsk_") {
				writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key format"})
				return
			}

			rt, hit, needsRefresh := cache.get(key)
			if hit && needsRefresh {
				// Stale hit — serve it now, refresh in the background
				go d.refreshAuth(cache, key)
			}
			if hit && rt != nil {
				next(w, r.WithContext(context.WithValue(r.Context(), runtimeCtxKey, rt)))
				return
			}

			rt, err := d.authenticateKey(r.Context(), key)
			switch {
			case errors.Is(err, errUnknownKey):
				writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key"})
				return
			case err != nil && d.AuthFailOpen:
				d.Logger.Warn("auth store unavailable, failing open", zap.Error(err))
				rt = &authRuntime{ID: "runtime_unknown", Name: "unknown", Mode: "enforce", FailOpen: true}
			case err != nil:
				d.Logger.Error("auth store unavailable", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Authentication temporarily unavailable"})
				return
			default:
				cache.set(key, rt)
			}

			next(w, r.WithContext(context.WithValue(r.Context(), runtimeCtxKey, rt)))
		}
	}
}

// authenticateKey validates an API key and returns the runtime context.
// Without Postgres every well-formed key maps to a static runtime, which
// keeps single-host deployments working with no database.
func (d *Dependencies) authenticateKey(ctx context.Context, key string) (*authRuntime, error) {
	if d.Store == nil {
		return &authRuntime{ID: "runtime_static", Name: "static", Mode: "enforce", FailOpen: true}, nil
	}

	prefix := key[:8]
	rt, err := d.Store.LookupByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		return nil, errUnknownKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rt.APIKeyHash), []byte(key)); err != nil {
		return nil, errUnknownKey
	}

	return &authRuntime{
		ID:       rt.ID,
		Name:     rt.Name,
		Mode:     rt.Mode,
		FailOpen: rt.FailOpen,
	}, nil
}

// refreshAuth refreshes the cache entry in the background.
func (d *Dependencies) refreshAuth(cache *authCache, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt, err := d.authenticateKey(ctx, key)
	if err != nil {
		d.Logger.Warn("background auth refresh failed", zap.Error(err))
		return
	}
	cache.set(key, rt)
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
