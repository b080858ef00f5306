package handler

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/auth"
	"github.com/rl1809/bookstore/internal/core/domain"
)

// Route maps a public path prefix onto an upstream service.
type Route struct {
	Prefix   string
	Upstream *url.URL
	Rewrite  string
}

type GatewayConfig struct {
	Routes          []Route
	UpstreamTimeout time.Duration
	RateLimit       float64
	RateBurst       int
}

// NewGatewayRouter builds the edge: every request passes the authenticator
// before it is routed, so nothing unauthenticated reaches an upstream.
func NewGatewayRouter(cfg GatewayConfig, edge *auth.EdgeAuthenticator, login *AuthHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.RateLimit > 0 {
		r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
	}
	r.Use(edge.Middleware)

	r.Get("/healthz", HealthCheck)
	r.Post("/auth/login", login.Login)

	for _, route := range cfg.Routes {
		proxy := newUpstreamProxy(route, cfg.UpstreamTimeout, logger)
		r.Handle(route.Prefix, proxy)
		r.Handle(route.Prefix+"/*", proxy)
	}
	return r
}

func newUpstreamProxy(route Route, timeout time.Duration, logger *zap.Logger) *httputil.ReverseProxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = route.Rewrite + strings.TrimPrefix(pr.In.URL.Path, route.Prefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(route.Upstream)
			pr.SetXForwarded()
			if id := middleware.GetReqID(pr.In.Context()); id != "" {
				pr.Out.Header.Set(middleware.RequestIDHeader, id)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("upstream request failed",
				zap.String("upstream", route.Upstream.Host),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			writeJSON(w, http.StatusBadGateway, errorResponse{
				Error:   domain.KindUpstreamUnavailable,
				Message: "upstream service unavailable",
			})
		},
	}
}

// RequestLogger logs one line per request once the response is written.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
