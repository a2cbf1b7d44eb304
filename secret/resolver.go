package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const refPrefix = "secretref:"

var inlineRef = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

// Resolver expands environment variables and secret references in
// configuration values.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a Resolver. When strict is set, a provider returning an
// empty value is an error.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider), strict: strict}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Resolver) Register(p Provider) {
	if p != nil {
		r.providers[p.Name()] = p
	}
}

// ResolveValue expands value and replaces every secret reference in it.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	if provider, ref, ok := ParseSecretRef(expanded); ok {
		return r.resolve(ctx, provider, ref)
	}

	matches := inlineRef.FindAllStringSubmatchIndex(expanded, -1)
	out := expanded
	// Replace from the end so earlier indexes stay valid
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		v, err := r.resolve(ctx, out[m[2]:m[3]], out[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		out = out[:m[0]] + v + out[m[1]:]
	}
	return out, nil
}

// ResolveMap resolves every value of input.
func (r *Resolver) ResolveMap(ctx context.Context, input map[string]string) (map[string]string, error) {
	if input == nil {
		return nil, nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		resolved, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// Close closes every provider.
func (r *Resolver) Close() error {
	var errs []error
	for _, p := range r.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// ParseSecretRef splits a whole-value reference "secretref:<provider>:<ref>".
// A value containing whitespace is not a whole-value reference.
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, refPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" || strings.ContainsFunc(value, unicode.IsSpace) {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) resolve(ctx context.Context, provider, ref string) (string, error) {
	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrProviderNotFound, provider)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("secret %s:%s: %w", provider, ref, err)
	}
	if r.strict && v == "" {
		return "", fmt.Errorf("%w: %s:%s", ErrEmptySecret, provider, ref)
	}
	return v, nil
}
