package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Permissions checked by the callgate API.
const (
	PermChatComplete  = "chat:complete"
	PermGatewaysRead  = "gateways:read"
	PermGatewaysReset = "gateways:reset"
)

// Authorizer decides whether an identity holds a permission.
type Authorizer interface {
	// Authorize returns nil when allowed and an error wrapping ErrForbidden
	// otherwise.
	Authorize(ctx context.Context, id *Identity, permission string) error
}

// AuthzError describes a denied permission.
type AuthzError struct {
	Subject    string
	Permission string
	Reason     string
}

func (e *AuthzError) Error() string {
	subject := e.Subject
	if subject == "" {
		subject = "anonymous"
	}
	return fmt.Sprintf("auth: %s denied %s: %s", subject, e.Permission, e.Reason)
}

func (e *AuthzError) Unwrap() error { return ErrForbidden }

// RoleConfig grants permissions to a role. A permission is an exact name,
// "*", or a prefix pattern such as "gateways:*".
type RoleConfig struct {
	Permissions []string `mapstructure:"permissions" json:"permissions"`
	Inherits    []string `mapstructure:"inherits" json:"inherits,omitempty"`
}

// DefaultRoles grants everything to admin and the chat and read
// permissions to user.
func DefaultRoles() map[string]RoleConfig {
	return map[string]RoleConfig{
		"user":  {Permissions: []string{PermChatComplete, PermGatewaysRead}},
		"admin": {Permissions: []string{"*"}, Inherits: []string{"user"}},
	}
}

// RoleAuthorizer grants permissions through an identity's roles, following
// inheritance.
type RoleAuthorizer struct {
	roles map[string]RoleConfig
}

// NewRoleAuthorizer creates a RoleAuthorizer. A nil map uses DefaultRoles.
func NewRoleAuthorizer(roles map[string]RoleConfig) *RoleAuthorizer {
	if roles == nil {
		roles = DefaultRoles()
	}
	return &RoleAuthorizer{roles: roles}
}

func (a *RoleAuthorizer) Authorize(_ context.Context, id *Identity, permission string) error {
	if id == nil {
		return &AuthzError{Permission: permission, Reason: "no identity"}
	}
	for _, role := range a.expand(id.Roles) {
		if slices.ContainsFunc(a.roles[role].Permissions, func(p string) bool {
			return matchPermission(p, permission)
		}) {
			return nil
		}
	}
	return &AuthzError{Subject: id.Principal, Permission: permission, Reason: "no role grants it"}
}

// expand returns roles plus everything they inherit, each once.
func (a *RoleAuthorizer) expand(roles []string) []string {
	seen := make(map[string]bool)
	queue := slices.Clone(roles)
	var out []string
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
		queue = append(queue, a.roles[r].Inherits...)
	}
	return out
}

func matchPermission(pattern, permission string) bool {
	if pattern == "*" || pattern == permission {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, "*")
	return ok && strings.HasPrefix(permission, prefix)
}

var _ Authorizer = (*RoleAuthorizer)(nil)
