package auth

import "time"

const (
	OperatorStatusActive   = "active"
	OperatorStatusDisabled = "disabled"
)

// Operator is a tenant staff account allowed to manage client links.
type Operator struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
}

// Principal is an authenticated operator with resolved permissions.
type Principal struct {
	UserID      string
	TenantID    string
	Role        string
	Permissions map[string]struct{}
}

// NewPrincipal resolves the permissions of an operator's role.
func NewPrincipal(op Operator) Principal {
	return Principal{
		UserID:      op.ID,
		TenantID:    op.TenantID,
		Role:        op.Role,
		Permissions: PermissionsForRole(op.Role),
	}
}

// HasPermission reports whether the principal can execute action identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}
