package httpserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/justinas/alice"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/logging"
)

type contextKey int

const userContextKey contextKey = iota

// UserFromContext returns the authenticated user attached to a request by
// the auth middleware.
func UserFromContext(ctx context.Context) (*auth.UserInfo, bool) {
	user, ok := ctx.Value(userContextKey).(*auth.UserInfo)
	return user, ok
}

// authWhitelist lists the endpoints reachable without a bearer token.
var authWhitelist = map[string]bool{
	"/api/auth/login": true,
	"/api/status":     true,
	"/api/health":     true,
}

// NewCORSConstructor produces middleware that emits the CORS headers and
// terminates OPTIONS preflights with a 200.
func NewCORSConstructor(allowedOrigins []string) alice.Constructor {
	origins := strings.Join(allowedOrigins, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
			response.Header().Set("Access-Control-Allow-Origin", origins)
			response.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			response.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if request.Method == http.MethodOptions {
				response.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(response, request)
		})
	}
}

// NewLoggingConstructor produces middleware that logs each request.
func NewLoggingConstructor(logger log.Logger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
			started := time.Now()
			next.ServeHTTP(response, request)
			logger.Log(
				level.Key(), level.DebugValue(),
				logging.MessageKey(), "request handled",
				"method", request.Method,
				"path", request.URL.Path,
				"remoteAddress", request.RemoteAddr,
				"duration", time.Since(started),
			)
		})
	}
}

// rateLimiter is a per-client fixed-window request counter.
type rateLimiter struct {
	lock    sync.Mutex
	limit   int
	windows map[string]*rateWindow
}

type rateWindow struct {
	count int
	start time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		windows: make(map[string]*rateWindow),
	}
}

func (r *rateLimiter) allow(client string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := time.Now()
	window, ok := r.windows[client]
	if !ok || now.Sub(window.start) >= time.Minute {
		// opportunistically drop stale windows before starting a new one
		for key, candidate := range r.windows {
			if now.Sub(candidate.start) >= time.Minute {
				delete(r.windows, key)
			}
		}

		r.windows[client] = &rateWindow{count: 1, start: now}
		return true
	}

	window.count++
	return window.count <= r.limit
}

func clientAddress(request *http.Request) string {
	if host := request.Header.Get("X-Forwarded-For"); len(host) > 0 {
		return host
	}

	if index := strings.LastIndex(request.RemoteAddr, ":"); index > 0 {
		return request.RemoteAddr[:index]
	}

	return request.RemoteAddr
}

// NewRateLimitConstructor produces middleware enforcing a per-client
// request limit per minute.
func NewRateLimitConstructor(limit int) alice.Constructor {
	limiter := newRateLimiter(limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
			if !limiter.allow(clientAddress(request)) {
				WriteError(response, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(response, request)
		})
	}
}

// NewAuthConstructor produces middleware that requires a valid bearer token
// on every endpoint outside the whitelist.  The authenticated user is
// attached to the request context.
func NewAuthConstructor(manager *auth.Manager) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
			if authWhitelist[request.URL.Path] {
				next.ServeHTTP(response, request)
				return
			}

			token, ok := bearerToken(request)
			if !ok {
				WriteError(response, http.StatusUnauthorized, "Missing or malformed Authorization header")
				return
			}

			user, ok := manager.ValidateToken(token)
			if !ok {
				WriteError(response, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			next.ServeHTTP(response, request.WithContext(
				context.WithValue(request.Context(), userContextKey, user),
			))
		})
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(request *http.Request) (string, bool) {
	value := request.Header.Get("Authorization")
	if len(value) == 0 {
		return "", false
	}

	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return strings.TrimSpace(parts[1]), true
}
