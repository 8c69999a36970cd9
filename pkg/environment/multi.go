package environment

import "context"

type MultiProvider struct {
	providers []Provider
}

func NewMultiProvider(providers ...Provider) *MultiProvider {
	return &MultiProvider{
		providers: providers,
	}
}

func (p *MultiProvider) Get(ctx context.Context, name string) (string, bool) {
	for _, provider := range p.providers {
		if value, ok := provider.Get(ctx, name); ok && value != "" {
			return value, true
		}
	}

	return "", false
}
