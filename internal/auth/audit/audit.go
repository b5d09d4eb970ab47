// Package audit records authentication and authorization events. Events
// are append-only and must never carry secrets or full tokens.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
)

// Kind names an event.
type Kind string

const (
	LoginSucceeded       Kind = "auth.login.succeeded"
	LoginFailed          Kind = "auth.login.failed"
	Logout               Kind = "auth.logout"
	TokenRefreshed       Kind = "auth.token.refreshed"
	TokenRefreshFailed   Kind = "auth.token.refresh_failed"
	AuthenticationOK     Kind = "auth.authenticated"
	AuthenticationDenied Kind = "auth.authentication_denied"
	AuthorizationOK      Kind = "authz.granted"
	AuthorizationDenied  Kind = "authz.denied"
	RateLimitExceeded    Kind = "rate_limit.exceeded"
	Registered           Kind = "auth.registered"
	PasswordResetIssued  Kind = "auth.password_reset.issued"
	PasswordReset        Kind = "auth.password_reset.completed"
	PasswordResetFailed  Kind = "auth.password_reset.failed"
	PasswordChanged      Kind = "auth.password.changed"
	PasswordChangeFailed Kind = "auth.password.change_failed"
	EmailVerified        Kind = "auth.email.verified"
	VerificationIssued   Kind = "auth.email.verification_issued"
	SessionRevoked       Kind = "auth.session.revoked"
	UserCreated          Kind = "user.created"
	UserAccessChanged    Kind = "user.access.changed"
	UserStatusChanged    Kind = "user.status.changed"
	UserDeleted          Kind = "user.deleted"
)

// Event is one audit record.
type Event struct {
	Kind      Kind
	SubjectID string
	Path      string
	Method    string
	IP        string
	UserAgent string
	Reason    string
	Attrs     []slog.Attr
}

// Request fills the request metadata of an event.
func Request(r *http.Request) Event {
	return Event{
		Path:      r.URL.Path,
		Method:    r.Method,
		IP:        httpx.IPKeyExtractor(r),
		UserAgent: r.UserAgent(),
	}
}

// Sink consumes audit events.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Logger writes events as structured log lines at a fixed level and counts
// them in Prometheus.
type Logger struct {
	log    *slog.Logger
	events *prometheus.CounterVec
	now    func() time.Time
}

// NewLogger builds a Logger. log may be nil to use the request logger from
// context; reg may be nil to skip metrics.
func NewLogger(log *slog.Logger, reg prometheus.Registerer) *Logger {
	l := &Logger{
		log: log,
		now: time.Now,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_audit_events_total",
			Help: "Authentication and authorization events by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(l.events)
	}
	return l
}

func (l *Logger) Record(ctx context.Context, e Event) {
	log := l.log
	if log == nil {
		log = slogx.FromContext(ctx)
	} else if rid := slogx.RequestID(ctx); rid != "" {
		log = log.With("req_id", rid)
	}

	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", string(e.Kind)),
		slog.Time("ts", l.now().UTC()),
	}
	if e.SubjectID != "" {
		attrs = append(attrs, slog.String("subject_id", e.SubjectID))
	}
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path), slog.String("method", e.Method))
	}
	if e.IP != "" {
		attrs = append(attrs, slog.String("ip", e.IP))
	}
	if e.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", e.UserAgent))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	attrs = append(attrs, e.Attrs...)

	log.LogAttrs(ctx, levelFor(e.Kind), "audit", attrs...)
	l.events.WithLabelValues(string(e.Kind)).Inc()
}

func levelFor(k Kind) slog.Level {
	switch k {
	case LoginFailed, TokenRefreshFailed, AuthenticationDenied, AuthorizationDenied,
		RateLimitExceeded, PasswordResetFailed, PasswordChangeFailed:
		return slog.LevelWarn
	case AuthenticationOK, AuthorizationOK:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

type requestKey struct{}

// WithRequest stores the request metadata on ctx so events recorded deeper
// in the call stack carry it.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestKey{}, Request(r))
}

// New starts an event of kind k pre-filled with the request metadata on ctx.
func New(ctx context.Context, k Kind) Event {
	e, _ := ctx.Value(requestKey{}).(Event)
	e.Kind = k
	return e
}

// Middleware attaches request metadata for audit events.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequest(r.Context(), r)))
	})
}
