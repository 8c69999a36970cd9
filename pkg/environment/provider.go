package environment

import "context"

type Provider interface {
	// Get retrieves the value of an environment variable by name.
	// Returns (value, true) if found (value may be empty).
	// Returns ("", false) if not found.
	Get(ctx context.Context, name string) (string, bool)
}

// Lookup returns the first non-empty value among names.
func Lookup(ctx context.Context, p Provider, names ...string) (string, bool) {
	for _, name := range names {
		if value, ok := p.Get(ctx, name); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

// Require returns the first non-empty value among names, or a *RequiredEnvError listing them all.
func Require(ctx context.Context, p Provider, names ...string) (string, error) {
	if value, ok := Lookup(ctx, p, names...); ok {
		return value, nil
	}
	return "", &RequiredEnvError{Missing: names}
}
