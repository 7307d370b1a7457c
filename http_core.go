package cytoqc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor is the limiter state of one client address.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies a token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     3 * time.Minute,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// sweep forgets clients idle for longer than the idle timeout.
func (rl *rateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, ip)
		}
	}
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// rateLimitMiddleware rejects clients exceeding their budget.
func rateLimitMiddleware(rl *rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(getClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticator checks API keys. Read-only keys may not start or delete
// runs.
type authenticator struct {
	apiKeys      map[string]bool
	readOnlyKeys map[string]bool
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	if len(cfg.APIKeys) == 0 && len(cfg.ReadOnlyKeys) == 0 {
		return nil
	}
	a := &authenticator{
		apiKeys:      make(map[string]bool),
		readOnlyKeys: make(map[string]bool),
	}
	for _, k := range cfg.APIKeys {
		a.apiKeys[k] = true
	}
	for _, k := range cfg.ReadOnlyKeys {
		a.readOnlyKeys[k] = true
	}
	return a
}

// extractAPIKey reads a bearer token or the X-API-Key header.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func isWriteOperation(r *http.Request) bool {
	return r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete
}

// authMiddleware enforces API keys on every path except /health.
func authMiddleware(a *authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			key := extractAPIKey(r)
			switch {
			case key == "":
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "authentication required", http.StatusUnauthorized)
			case a.apiKeys[key]:
				next.ServeHTTP(w, r)
			case a.readOnlyKeys[key]:
				if isWriteOperation(r) {
					http.Error(w, "read-only API key cannot perform write operations", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
			default:
				http.Error(w, "invalid API key", http.StatusUnauthorized)
			}
		})
	}
}
