package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/KantanPro/ktp-ledger/internal/observability"
	"github.com/KantanPro/ktp-ledger/internal/platform/httpx"
	"github.com/KantanPro/ktp-ledger/internal/shared"
)

const (
	// NonceHeader is accepted in place of the nonce form field.
	NonceHeader = "X-KTP-Nonce"
	// SessionQueryParam is accepted in place of the session header.
	SessionQueryParam = "session_id"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the middleware chain shared by every route.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// AjaxRateLimit throttles AJAX calls per session, falling back to the client IP.
func AjaxRateLimit(requests int) func(http.Handler) http.Handler {
	if requests <= 0 {
		requests = 120
	}
	return httprate.Limit(requests, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := r.Header.Get(shared.SessionHeader); id != "" {
				return "session:" + id, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Failure(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}),
	)
}

// NonceMiddleware rejects requests whose nonce does not match the session
// header and stores the verified session id in the request context.
func NonceMiddleware(nonces *shared.NonceManager, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				httpx.Failure(w, http.StatusBadRequest, "validation", "malformed form body")
				return
			}
			sessionID := requestSession(r)
			if err := nonces.Verify(sessionID, shared.LedgerNonceAction, requestNonce(r)); err != nil {
				logger.Warn("nonce verification failed",
					slog.String("path", r.URL.Path),
					slog.String("action", r.PostFormValue("action")),
					slog.String("request_id", middleware.GetReqID(r.Context())))
				httpx.Failure(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			ctx := shared.ContextWithSessionID(r.Context(), sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestSession prefers the session header over the query parameter used by download links.
func requestSession(r *http.Request) string {
	if id := r.Header.Get(shared.SessionHeader); id != "" {
		return id
	}
	return r.URL.Query().Get(SessionQueryParam)
}

func requestNonce(r *http.Request) string {
	if nonce := r.PostFormValue(shared.NonceFormField); nonce != "" {
		return nonce
	}
	if nonce := r.URL.Query().Get(shared.NonceFormField); nonce != "" {
		return nonce
	}
	return r.Header.Get(NonceHeader)
}
