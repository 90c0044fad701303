package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry is the keyed collection of available tools. Registration primes
// each tool's cached description because permission prompts need it
// synchronously later.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]Tool
	descriptions map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:        make(map[string]Tool),
		descriptions: make(map[string]string),
	}
}

// Register adds tools and primes their descriptions concurrently.
// A duplicate name is an error.
func (r *Registry) Register(ctx context.Context, toolList ...Tool) error {
	r.mu.Lock()
	for _, t := range toolList {
		if _, exists := r.tools[t.Name()]; exists {
			r.mu.Unlock()
			return fmt.Errorf("tool %q already registered", t.Name())
		}
		r.tools[t.Name()] = t
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range toolList {
		g.Go(func() error {
			desc, err := t.Description(gctx)
			if err != nil {
				return fmt.Errorf("describe tool %q: %w", t.Name(), err)
			}
			r.mu.Lock()
			r.descriptions[t.Name()] = desc
			r.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// CachedDescription returns the description primed at registration.
func (r *Registry) CachedDescription(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descriptions[name]
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
