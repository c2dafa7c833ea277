package config

import (
	"fmt"

	"github.com/polisai/polis-gateway/pkg/domain"
)

// RouteTable is the immutable set of route bindings resolved at startup.
// It has no mutators; callers receive copies.
type RouteTable struct {
	bindings []domain.RouteBinding
	byPath   map[string]int
}

// NewRouteTable validates the route configuration and resolves every address.
func NewRouteTable(routes []RouteConfig) (*RouteTable, error) {
	t := &RouteTable{
		bindings: make([]domain.RouteBinding, 0, len(routes)),
		byPath:   make(map[string]int, len(routes)),
	}

	for i, r := range routes {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%w: route %d: %w", domain.ErrConfigInvalid, i, err)
		}
		if _, dup := t.byPath[r.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate path %q", domain.ErrConfigInvalid, r.Path)
		}
		base, err := parseBaseURL(r.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
		}
		t.byPath[r.Path] = len(t.bindings)
		t.bindings = append(t.bindings, domain.RouteBinding{
			Path:    r.Path,
			Domain:  r.Domain,
			BaseURL: base,
		})
	}

	return t, nil
}

// Bindings returns a copy of every binding in configuration order.
func (t *RouteTable) Bindings() []domain.RouteBinding {
	out := make([]domain.RouteBinding, len(t.bindings))
	for i, b := range t.bindings {
		out[i] = cloneBinding(b)
	}
	return out
}

// Lookup returns the binding for a client-facing path.
func (t *RouteTable) Lookup(path string) (domain.RouteBinding, error) {
	i, ok := t.byPath[path]
	if !ok {
		return domain.RouteBinding{}, fmt.Errorf("%w: %s", domain.ErrRouteNotFound, path)
	}
	return cloneBinding(t.bindings[i]), nil
}

// Len returns the number of bindings.
func (t *RouteTable) Len() int {
	return len(t.bindings)
}

func cloneBinding(b domain.RouteBinding) domain.RouteBinding {
	u := *b.BaseURL
	if b.BaseURL.User != nil {
		user := *b.BaseURL.User
		u.User = &user
	}
	b.BaseURL = &u
	return b
}
