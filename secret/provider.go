package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves secrets by reference. Implementations are safe for
// concurrent use and never log secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves a reference as an environment variable name.
type EnvProvider struct {
	// Prefix is prepended to every reference.
	// Default: ""
	Prefix string

	lookup func(string) (string, bool)
}

// NewEnvProvider creates an EnvProvider reading the process environment.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix, lookup: os.LookupEnv}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	name := p.Prefix + ref
	v, ok := p.lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, name)
	}
	return v, nil
}

func (p *EnvProvider) Close() error { return nil }

// FileProvider resolves a reference as a file path below Dir. Trailing
// newlines are trimmed from the contents.
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a FileProvider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !filepath.IsLocal(ref) {
		return "", fmt.Errorf("secret: file ref %q escapes %s", ref, p.Dir)
	}

	data, err := os.ReadFile(filepath.Join(p.Dir, ref))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func (p *FileProvider) Close() error { return nil }

var (
	_ Provider = (*EnvProvider)(nil)
	_ Provider = (*FileProvider)(nil)
)
