package auth

import "context"

// CompositeAuthenticator tries authenticators in order and returns the first
// success. When none succeeds it returns the last failure.
type CompositeAuthenticator struct {
	authenticators []Authenticator
}

// NewCompositeAuthenticator creates a CompositeAuthenticator.
func NewCompositeAuthenticator(auths ...Authenticator) *CompositeAuthenticator {
	return &CompositeAuthenticator{authenticators: auths}
}

func (c *CompositeAuthenticator) Name() string { return "composite" }

func (c *CompositeAuthenticator) Supports(ctx context.Context, req *AuthRequest) bool {
	for _, a := range c.authenticators {
		if a.Supports(ctx, req) {
			return true
		}
	}
	return false
}

func (c *CompositeAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	last := AuthFailure(ErrMissingCredentials, c.Name())
	for _, a := range c.authenticators {
		if !a.Supports(ctx, req) {
			continue
		}
		result, err := a.Authenticate(ctx, req)
		if err != nil {
			return nil, err
		}
		if result.Authenticated {
			return result, nil
		}
		last = result
	}
	return last, nil
}

var _ Authenticator = (*CompositeAuthenticator)(nil)
