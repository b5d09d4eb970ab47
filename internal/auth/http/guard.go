package http

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/aussiebroadwan/erp/internal/auth/audit"
	"github.com/aussiebroadwan/erp/internal/auth/domain"
	"github.com/aussiebroadwan/erp/internal/auth/service"
	"github.com/aussiebroadwan/erp/internal/auth/session"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/aussiebroadwan/erp/pkg/jwtx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
)

// Guard authenticates bearer tokens and authorizes the resulting principal.
// Authenticate must run before any Require* middleware on a route.
type Guard struct {
	Tokens   *service.TokenService
	Store    store.Store
	Sessions session.Store // optional
	Audit    audit.Sink
	errs     errorWriter
}

// denial is a failed check. reason goes to the audit log only.
type denial struct {
	err     *domain.Error
	reason  string
	subject string
}

// principal resolves the request's bearer token to the stored user. The
// returned error is non-nil only for infrastructure failures.
func (g *Guard) principal(r *http.Request) (domain.Principal, *denial, error) {
	ctx := r.Context()

	raw, err := httpx.BearerToken(r)
	switch {
	case errors.Is(err, httpx.ErrMissingToken):
		return domain.Principal{}, &denial{err: domain.ErrAuthRequired, reason: "missing_token"}, nil
	case err != nil:
		return domain.Principal{}, &denial{err: domain.ErrAuthRequired, reason: "malformed_header"}, nil
	}

	claims, err := g.Tokens.VerifyAccessToken(raw)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return domain.Principal{}, &denial{
				err:     domain.ErrTokenExpired,
				reason:  "token_expired",
				subject: jwtx.UnverifiedSubject(raw),
			}, nil
		}
		return domain.Principal{}, &denial{
			err:     domain.ErrTokenInvalid,
			reason:  "token_invalid",
			subject: jwtx.UnverifiedSubject(raw),
		}, nil
	}

	u, err := g.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Principal{}, &denial{
				err:     domain.ErrAccountUnavailable,
				reason:  "account_not_found",
				subject: claims.Subject,
			}, nil
		}
		return domain.Principal{}, nil, err
	}
	if !u.CanAuthenticate() {
		return domain.Principal{}, &denial{err: domain.ErrAccountUnavailable, reason: "account_inactive", subject: u.ID}, nil
	}

	if claims.SID != "" && g.Sessions != nil {
		if _, err := g.Sessions.Get(ctx, claims.SID); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return domain.Principal{}, &denial{err: domain.ErrSessionRevoked, reason: "session_revoked", subject: u.ID}, nil
			}
			// Fail open: the token is valid and the user is active.
			slogx.FromContext(ctx).Warn("session store unavailable", slog.Any("error", err))
		}
	}

	return domain.PrincipalFromUser(u, claims.SID), nil, nil
}

// Authenticate requires a valid access token of an active user and attaches
// the domain.Principal to the request context.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, d, err := g.principal(r)
		if err != nil {
			g.errs.write(w, r, err)
			return
		}
		if d != nil {
			g.deny(w, r, audit.AuthenticationDenied, d)
			return
		}

		g.record(r, audit.AuthenticationOK, p.UserID, "")
		ctx := domain.ContextWithPrincipal(r.Context(), p)
		ctx = slogx.With(ctx, "user_id", p.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches a principal when the request carries a valid token and
// otherwise lets the request through anonymously.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, d, err := g.principal(r)
		if err != nil || d != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.ContextWithPrincipal(r.Context(), p)))
	})
}

// authorize builds a middleware from a predicate over the principal. check
// returns a non-empty reason to deny.
func (g *Guard) authorize(check func(r *http.Request, p domain.Principal) (reason string, attrs []slog.Attr)) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := domain.PrincipalFromContext(r.Context())
			if !ok {
				g.deny(w, r, audit.AuthenticationDenied, &denial{err: domain.ErrAuthRequired, reason: "missing_principal"})
				return
			}
			if reason, attrs := check(r, p); reason != "" {
				g.deny(w, r, audit.AuthorizationDenied, &denial{err: domain.ErrForbidden, reason: reason, subject: p.UserID}, attrs...)
				return
			}
			g.record(r, audit.AuthorizationOK, p.UserID, "")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole allows principals holding one of roles.
func (g *Guard) RequireRole(roles ...domain.Role) httpx.Middleware {
	return g.authorize(func(_ *http.Request, p domain.Principal) (string, []slog.Attr) {
		if slices.Contains(roles, p.Role) {
			return "", nil
		}
		return "role_mismatch", []slog.Attr{
			slog.Any("required_roles", roles),
			slog.String("actual_role", string(p.Role)),
		}
	})
}

// RequirePermission allows principals holding permission or "*".
func (g *Guard) RequirePermission(permission string) httpx.Middleware {
	return g.authorize(func(_ *http.Request, p domain.Principal) (string, []slog.Attr) {
		if p.Can(permission) {
			return "", nil
		}
		return "missing_permission", []slog.Attr{slog.String("required_permission", permission)}
	})
}

// RequireDepartment allows principals of one of depts. Super admins pass.
func (g *Guard) RequireDepartment(depts ...domain.Department) httpx.Middleware {
	return g.authorize(func(_ *http.Request, p domain.Principal) (string, []slog.Attr) {
		if p.Role == domain.RoleSuperAdmin || slices.Contains(depts, p.Department) {
			return "", nil
		}
		return "department_mismatch", []slog.Attr{
			slog.Any("required_departments", depts),
			slog.String("actual_department", string(p.Department)),
		}
	})
}

// RequireOwnership allows the principal whose id equals the request's
// field value. Admins and super admins pass.
func (g *Guard) RequireOwnership(field string) httpx.Middleware {
	return g.authorize(func(r *http.Request, p domain.Principal) (string, []slog.Attr) {
		if p.Role.IsAdmin() {
			return "", nil
		}
		if id := lookup(r, field); id != "" && id == p.UserID {
			return "", nil
		}
		return "not_owner", nil
	})
}

// RequireCompanyAccess allows principals whose company equals the request's
// field value. Super admins pass.
func (g *Guard) RequireCompanyAccess(field string) httpx.Middleware {
	return g.authorize(func(r *http.Request, p domain.Principal) (string, []slog.Attr) {
		if p.Role == domain.RoleSuperAdmin {
			return "", nil
		}
		if id := lookup(r, field); id != "" && id == p.CompanyID {
			return "", nil
		}
		return "company_mismatch", nil
	})
}

// lookup reads field from the path, then the query string.
func lookup(r *http.Request, field string) string {
	if v := r.PathValue(field); v != "" {
		return v
	}
	return r.URL.Query().Get(field)
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, k audit.Kind, d *denial, attrs ...slog.Attr) {
	g.record(r, k, d.subject, d.reason, attrs...)
	g.errs.write(w, r, d.err)
}

func (g *Guard) record(r *http.Request, k audit.Kind, subject, reason string, attrs ...slog.Attr) {
	if g.Audit == nil {
		return
	}
	e := audit.Request(r)
	e.Kind = k
	e.SubjectID = subject
	e.Reason = reason
	e.Attrs = attrs
	g.Audit.Record(r.Context(), e)
}
