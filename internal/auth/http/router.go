package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rentloop/rentloop/internal/auth/service"
	"github.com/rentloop/rentloop/internal/auth/store"
	"github.com/rentloop/rentloop/pkg/httpx"
	"github.com/rentloop/rentloop/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store  store.Store
	replay store.ReplayStore

	SessionService *service.SessionService
}

func NewRouter(
	buildVersion string,
	st store.Store,
	replay store.ReplayStore,
	limiter *httpx.RateLimiter,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		replay:       replay,
		logger:       logger,
	}

	// Every request flows through the request logger and the admission
	// check; the limiter's excluded paths carry the health probes past it.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.RateLimit(limiter),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSessions()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSessions() {
	h := &SessionHandler{SessionService: r.SessionService}

	r.Mux.Handle("POST /v1/auth/login", http.HandlerFunc(h.HandleLogin))
	r.Mux.Handle("POST /v1/auth/refresh", http.HandlerFunc(h.HandleRefresh))
	r.Mux.Handle("POST /v1/auth/logout", http.HandlerFunc(h.HandleLogout))
	r.Mux.Handle("POST /v1/auth/logout_all", http.HandlerFunc(h.HandleLogoutAll))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.replay))
}
