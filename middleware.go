package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// authStep inspects a request and either returns ctx extended with what it
// resolved, or an error describing the response to send.
type authStep func(ctx context.Context, r *http.Request) (context.Context, error)

// guard runs steps in order; the first failure is written and ends the request.
func (a *App) guard(steps ...authStep) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, step := range steps {
				var err error
				ctx, err = step(ctx, r)
				if err != nil {
					a.writeError(w, r, err, nil, nil)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requirePrincipal authenticates the bearer token and then checks that it
// belongs to a principal of kind k.
func (a *App) requirePrincipal(k Kind) mux.MiddlewareFunc {
	return a.guard(a.validAccessToken, a.validTokenAffiliation(k))
}

// validAccessToken resolves a Bearer token to a live token record.
func (a *App) validAccessToken(ctx context.Context, r *http.Request) (context.Context, error) {
	presented, err := parseAuthorizationHeader(r.Header, SchemeBearer)
	if err != nil {
		return ctx, err
	}
	bearer, ok := presented.(BearerCredential)
	if !ok {
		return ctx, errInvalidOrUnknownAuthMethod
	}

	t, err := a.DB.GetTokenByAccessToken(ctx, bearer.AccessToken)
	if err != nil {
		return ctx, resolveError(err, ErrorTable{CodeNotFound: errInvalidToken}, nil)
	}
	// the store does not filter by expiry
	if t.Expired(a.now()) {
		return ctx, errExpiredToken
	}
	return withToken(ctx, t), nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// dummySecretHash is compared against when the client id is unknown so that
// both failure paths cost one bcrypt comparison.
func dummySecretHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = hashPassword("receiptshare-unknown-client")
	})
	return dummyHash
}

// validBasicAuth resolves a Basic client id/secret pair to a registered client.
func (a *App) validBasicAuth(ctx context.Context, r *http.Request) (context.Context, error) {
	presented, err := parseAuthorizationHeader(r.Header, SchemeBasic)
	if err != nil {
		return ctx, err
	}
	basic, ok := presented.(BasicCredential)
	if !ok {
		return ctx, errInvalidOrUnknownAuthMethod
	}

	c, err := a.DB.GetClientByClientID(ctx, basic.ClientID)
	if err != nil {
		if codeOf(err) == CodeNotFound {
			comparePassword(dummySecretHash(), basic.ClientSecret)
		}
		return ctx, resolveError(err, ErrorTable{CodeNotFound: errInvalidCred}, nil)
	}
	if !comparePassword(c.SecretHash, basic.ClientSecret) {
		return ctx, errInvalidCred
	}
	return withClient(ctx, c), nil
}

// validTokenAffiliation checks that the token in ctx was issued to a
// credential of kind k. The same message is used whether the credential is
// gone or of another kind.
func (a *App) validTokenAffiliation(k Kind) authStep {
	return func(ctx context.Context, r *http.Request) (context.Context, error) {
		t, ok := TokenFromContext(ctx)
		if !ok {
			return ctx, &Failure{
				Status:  errInternal.Status,
				Message: errInternal.Message,
				Err:     errors.New("affiliation checked before bearer token validation"),
			}
		}
		cred, err := a.DB.GetCredentialByID(ctx, t.CredentialID)
		if err != nil {
			return ctx, resolveError(err, ErrorTable{CodeNotFound: errNotAffiliated(k)}, nil)
		}
		if !cred.AffiliatedTo(k) {
			return ctx, errNotAffiliated(k)
		}
		return withCredential(ctx, cred), nil
	}
}

// RateLimiter implements per-client rate limiting
type RateLimiter struct {
	limiters map[int64]*rate.Limiter
	perMin   int
	mu       sync.RWMutex
}

func NewRateLimiter(limitPerMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		perMin:   limitPerMinute,
	}
}

func (rl *RateLimiter) getLimiter(clientID int64) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[clientID]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = rl.limiters[clientID]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(rl.perMin)/60, rl.perMin)
			rl.limiters[clientID] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

// RateLimit enforces the per-client limit. It must run after validBasicAuth.
func (a *App) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClientFromContext(r.Context())
		if !ok || a.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !a.rateLimiter.getLimiter(c.ID).Allow() {
			a.writeFailure(w, r, fail(http.StatusTooManyRequests, "Rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS middleware handles CORS headers
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(a.allowedOrigins) == 0
			for _, o := range a.allowedOrigins {
				if o == origin || o == "*" {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Logging middleware logs requests and records request metrics.
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if a.metrics != nil {
			a.metrics.requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			a.metrics.duration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
		}

		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", duration),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
