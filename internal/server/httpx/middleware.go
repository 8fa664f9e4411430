package httpx

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	identitydomain "study-planner/backend/internal/identity/domain"
	"study-planner/backend/internal/ratelimit"
	"study-planner/backend/internal/server/interceptors"
	"study-planner/backend/internal/telemetry"
	telemetrydomain "study-planner/backend/internal/telemetry/domain"
)

// Resolver turns an access token into the caller; see interceptors.Resolver.
type Resolver = interceptors.Resolver

// RequestLogger logs one line per request after it completes. Tokens, cookies and bodies are
// never logged.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("client_ip", ClientIP(r)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if userID, ok := interceptors.GetUserID(r.Context()); ok {
				fields = append(fields, zap.String("user_id", userID))
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Warn("http request", fields...)
				return
			}
			log.Info("http request", fields...)
		})
	}
}

// Authenticate resolves the caller from the accessToken cookie or a Bearer header and stores
// it in the request context. It never rejects a request.
func Authenticate(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := CookieValue(r, CookieAccessToken)
			if token == "" {
				token = interceptors.BearerToken(r.Header.Get("Authorization"))
			}
			if token != "" && resolver != nil {
				if user, ok := resolver.CurrentUser(token); ok {
					r = r.WithContext(interceptors.WithCurrentUser(r.Context(), user))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth returns 401 unless Authenticate stored a caller.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := interceptors.GetCurrentUser(r.Context()); !ok {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CurrentUser returns the caller stored by Authenticate.
func CurrentUser(r *http.Request) (*identitydomain.CurrentUser, bool) {
	return interceptors.GetCurrentUser(r.Context())
}

// RateLimit charges one request per client IP against policy. Denials are 429 with
// Retry-After and limiter outages are 503; either way the handler does not run.
func RateLimit(limiter ratelimit.Limiter, policy ratelimit.Policy, events telemetry.EventEmitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			err := ratelimit.Check(r.Context(), limiter, policy, "ip:"+ip)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			var limited *ratelimit.LimitedError
			if errors.As(err, &limited) {
				ev := telemetrydomain.NewEvent(telemetrydomain.EventRateLimited)
				ev.IPAddress = ip
				ev.Detail = policy.Name
				telemetry.EmitAsync(events, ev)
			} else {
				zap.L().Error("rate limiter unavailable", zap.String("policy", policy.Name), zap.Error(err))
			}
			WriteRateLimitError(w, err)
		})
	}
}

// Throttle applies the coarse per-IP burst bucket. A nil Burst allows everything.
func Throttle(b *ratelimit.Burst) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !b.Allow(ClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "too_many_requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
