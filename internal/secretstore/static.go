package secretstore

import "context"

// StaticProvider serves secrets from an in-process map. cmd/runtimed uses
// it by default; a real deployment supplies GCPProvider or an equivalent
// instead.
type StaticProvider struct {
	values map[string][]byte
}

// NewStaticProvider builds a StaticProvider over a fixed value set.
func NewStaticProvider(values map[string][]byte) *StaticProvider {
	return &StaticProvider{values: values}
}

func (p *StaticProvider) FetchSecret(ctx context.Context, name string) ([]byte, error) {
	v, ok := p.values[name]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}
