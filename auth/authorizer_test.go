package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRoleAuthorizer_DefaultRoles(t *testing.T) {
	a := NewRoleAuthorizer(nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		roles []string
		perm  string
		allow bool
	}{
		{"user chats", []string{"user"}, PermChatComplete, true},
		{"user reads", []string{"user"}, PermGatewaysRead, true},
		{"user cannot reset", []string{"user"}, PermGatewaysReset, false},
		{"admin resets", []string{"admin"}, PermGatewaysReset, true},
		{"no roles", nil, PermChatComplete, false},
		{"unknown role", []string{"guest"}, PermChatComplete, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authorize(ctx, &Identity{Principal: "p", Roles: tt.roles}, tt.perm)
			if (err == nil) != tt.allow {
				t.Errorf("Authorize() = %v, allow = %v", err, tt.allow)
			}
			if err != nil && !errors.Is(err, ErrForbidden) {
				t.Errorf("error %v does not wrap ErrForbidden", err)
			}
		})
	}
}

func TestRoleAuthorizer_InheritanceAndWildcards(t *testing.T) {
	a := NewRoleAuthorizer(map[string]RoleConfig{
		"reader":   {Permissions: []string{"gateways:read"}},
		"operator": {Permissions: []string{"gateways:*"}, Inherits: []string{"reader", "operator"}},
		"oncall":   {Inherits: []string{"operator"}},
	})
	ctx := context.Background()
	oncall := &Identity{Principal: "pager", Roles: []string{"oncall"}}

	if err := a.Authorize(ctx, oncall, PermGatewaysReset); err != nil {
		t.Errorf("inherited wildcard denied: %v", err)
	}
	if err := a.Authorize(ctx, oncall, PermChatComplete); err == nil {
		t.Error("wildcard leaked outside its prefix")
	}
}

func TestRoleAuthorizer_NilIdentity(t *testing.T) {
	err := NewRoleAuthorizer(nil).Authorize(context.Background(), nil, PermGatewaysRead)

	var authzErr *AuthzError
	if !errors.As(err, &authzErr) || authzErr.Reason != "no identity" {
		t.Fatalf("error = %v, want AuthzError", err)
	}
	if !strings.Contains(err.Error(), "anonymous denied gateways:read") {
		t.Errorf("Error() = %q", err)
	}
}
