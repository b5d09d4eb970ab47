package http

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/audit"
	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/service"
	"github.com/aussiebroadwan/erp/internal/auth/session"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/aussiebroadwan/erp/pkg/metrics"
	"github.com/aussiebroadwan/erp/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/aussiebroadwan/erp/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// APIPrefix is the path every API route is mounted under.
const APIPrefix = "/api/v1"

// departmentModules are the ERP modules served as placeholders.
var departmentModules = []domain.Department{
	domain.DeptFinance,
	domain.DeptHR,
	domain.DeptEngineering,
	domain.DeptManufacturing,
	domain.DeptControl,
}

// RouterConfig carries the dependencies of a Router.
type RouterConfig struct {
	BuildVersion string
	Store        store.Store
	Sessions     session.Store
	Tokens       *service.TokenService
	Logger       *slog.Logger
	Audit        audit.Sink

	// Limiter guards the credential endpoints. Nil disables rate limiting.
	Limiter httpx.Limiter

	// Registry enables /metrics and request instrumentation when set.
	Registry *prometheus.Registry

	RequestTimeout time.Duration

	// ExposeErrors adds internal error text to 500 responses. Never set in prod.
	ExposeErrors bool

	// TrustedProxies may set the client IP through forwarding headers.
	TrustedProxies []netip.Prefix
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	errs         errorWriter

	store    store.Store
	sessions session.Store
	limiter  httpx.Limiter
	audit    audit.Sink
	registry *prometheus.Registry
	Guard    *Guard

	AuthService      *service.AuthService
	UserService      *service.UserService
	BootstrapService *service.BootstrapService
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	errs := errorWriter{expose: cfg.ExposeErrors}

	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: cfg.BuildVersion,
		startTime:    time.Now(),
		logger:       cfg.Logger,
		errs:         errs,
		store:        cfg.Store,
		sessions:     cfg.Sessions,
		limiter:      cfg.Limiter,
		audit:        cfg.Audit,
		registry:     cfg.Registry,
		Guard: &Guard{
			Tokens:   cfg.Tokens,
			Store:    cfg.Store,
			Sessions: cfg.Sessions,
			Audit:    cfg.Audit,
			errs:     errs,
		},
	}

	// Set default middleware chain. Instrumentation sits innermost so it
	// sees the pattern ServeMux matched.
	r.middlewares = []httpx.Middleware{
		httpx.ClientIP(cfg.TrustedProxies),
		slogx.HTTPMiddleware(r.logger),
		httpx.Recover,
		audit.Middleware,
		httpx.Timeout(cfg.RequestTimeout),
	}
	if cfg.Registry != nil {
		r.middlewares = append(r.middlewares, metrics.NewHTTP(cfg.Registry).Instrument)
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerUsers()
	r.registerModules()
	r.registerBootstrap()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			ERP Authentication Service API
//	@version		0.1.0
//	@description	Authentication and authorization for the ERP: login, token refresh, password recovery, sessions and user administration.
//	@description
//	@description				Access tokens are HS256-signed JWTs presented as bearer tokens.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/erp
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// rateLimit limits a route per client IP. Each scope counts separately so
// failed logins do not exhaust password resets.
func (r *Router) rateLimit(scope string) httpx.Middleware {
	if r.limiter == nil {
		return nil
	}
	return httpx.RateLimitMiddleware(r.limiter,
		func(req *http.Request) string {
			ip := httpx.IPKeyExtractor(req)
			if ip == "" {
				return ""
			}
			return scope + ":" + ip
		},
		r.onLimited(scope),
	)
}

func (r *Router) onLimited(scope string) httpx.LimitedFunc {
	return func(req *http.Request, _ string, d httpx.Decision) {
		e := audit.New(req.Context(), audit.RateLimitExceeded)
		e.Reason = "too_many_attempts"
		e.Attrs = []slog.Attr{
			slog.String("scope", scope),
			slog.Duration("retry_after", d.RetryAfter),
		}
		r.audit.Record(req.Context(), e)
	}
}

func (r *Router) registerAuth() {
	h := &AuthHandler{AuthService: r.AuthService, errs: r.errs}
	g := r.Guard

	// Public credential endpoints - strict rate limit by IP
	r.Mux.Handle("POST "+APIPrefix+"/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister), r.rateLimit("register")))
	r.Mux.Handle("POST "+APIPrefix+"/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin), r.rateLimit("login")))
	r.Mux.Handle("POST "+APIPrefix+"/auth/forgot-password",
		httpx.Chain(http.HandlerFunc(h.HandleForgotPassword), r.rateLimit("forgot-password")))
	r.Mux.Handle("POST "+APIPrefix+"/auth/reset-password",
		httpx.Chain(http.HandlerFunc(h.HandleResetPassword), r.rateLimit("reset-password")))
	r.Mux.Handle("POST "+APIPrefix+"/auth/verify-email",
		httpx.Chain(http.HandlerFunc(h.HandleVerifyEmail), r.rateLimit("verify-email")))
	r.Mux.Handle("POST "+APIPrefix+"/auth/resend-verification",
		httpx.Chain(http.HandlerFunc(h.HandleResendVerification), r.rateLimit("resend-verification")))

	// Refresh tokens are 256-bit random values; guessing is not a concern.
	r.Mux.Handle("POST "+APIPrefix+"/auth/refresh", http.HandlerFunc(h.HandleRefresh))

	// Logout works with or without a bearer token
	r.Mux.Handle("POST "+APIPrefix+"/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout), g.Optional))

	// Authenticated endpoints
	r.Mux.Handle("POST "+APIPrefix+"/auth/change-password",
		httpx.Chain(http.HandlerFunc(h.HandleChangePassword), r.rateLimit("change-password"), g.Authenticate))
	r.Mux.Handle("GET "+APIPrefix+"/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe), g.Authenticate))
	r.Mux.Handle("GET "+APIPrefix+"/auth/sessions",
		httpx.Chain(http.HandlerFunc(h.HandleListSessions), g.Authenticate))
	r.Mux.Handle("DELETE "+APIPrefix+"/auth/sessions/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleRevokeSession), g.Authenticate))
}

func (r *Router) registerUsers() {
	h := &UsersHandler{UserService: r.UserService, errs: r.errs}
	g := r.Guard
	admins := g.RequireRole(domain.RoleSuperAdmin, domain.RoleAdmin)

	r.Mux.Handle("POST "+APIPrefix+"/users",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			g.Authenticate, admins, g.RequirePermission(domain.PermUsersWrite)))

	// Users may read themselves; admins anyone
	r.Mux.Handle("GET "+APIPrefix+"/users/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			g.Authenticate, g.RequireOwnership("id")))

	r.Mux.Handle("PATCH "+APIPrefix+"/users/{id}/access",
		httpx.Chain(http.HandlerFunc(h.HandleUpdateAccess),
			g.Authenticate, admins, g.RequirePermission(domain.PermUsersWrite)))
	r.Mux.Handle("PATCH "+APIPrefix+"/users/{id}/status",
		httpx.Chain(http.HandlerFunc(h.HandleUpdateStatus),
			g.Authenticate, admins, g.RequirePermission(domain.PermUsersWrite)))
	r.Mux.Handle("DELETE "+APIPrefix+"/users/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleDelete),
			g.Authenticate, admins, g.RequirePermission(domain.PermUsersDelete)))

	r.Mux.Handle("GET "+APIPrefix+"/companies/{companyId}/users",
		httpx.Chain(http.HandlerFunc(h.HandleListCompany),
			g.Authenticate, g.RequireCompanyAccess("companyId"), g.RequirePermission(domain.PermUsersRead)))
}

func (r *Router) registerModules() {
	g := r.Guard
	for _, d := range departmentModules {
		h := httpx.Chain(&ModuleHandler{Department: d},
			g.Authenticate,
			g.RequireDepartment(d, domain.DeptManagement),
			g.RequirePermission(domain.ReadPermission(d)),
		)
		r.Mux.Handle("GET "+APIPrefix+"/"+string(d), h)
		r.Mux.Handle("GET "+APIPrefix+"/"+string(d)+"/{rest...}", h)
	}
}

func (r *Router) registerBootstrap() {
	// POST /bootstrap - strict rate limit by IP (one-time setup endpoint)
	h := &BootstrapHandler{BootstrapService: r.BootstrapService, errs: r.errs}
	r.Mux.Handle("POST "+APIPrefix+"/bootstrap",
		httpx.Chain(h, r.rateLimit("bootstrap")))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.sessions))
	if r.registry != nil {
		r.Mux.Handle("GET /metrics", metrics.Handler(r.registry))
	}
}
