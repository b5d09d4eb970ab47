package domain

import "context"

// Principal is the authorization context of an authenticated request. It is
// built from the stored user, not from the token claims, so revocations and
// role changes apply immediately.
type Principal struct {
	UserID      string
	Email       string
	Role        Role
	Department  Department
	CompanyID   string
	Permissions []string
	SessionID   string
}

func (p Principal) Can(permission string) bool { return HasPermission(p.Permissions, permission) }

// PrincipalFromUser builds a principal for u bound to session sid.
func PrincipalFromUser(u User, sid string) Principal {
	return Principal{
		UserID:      u.ID,
		Email:       u.Email,
		Role:        u.Role,
		Department:  u.Department,
		CompanyID:   u.CompanyID,
		Permissions: u.Permissions,
		SessionID:   sid,
	}
}

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by the auth guard.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
