package hosting

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/valksor/go-cproj/internal/command"
)

// Config carries what a backend needs to connect.
type Config struct {
	RemoteURL string
	// Token is an already resolved credential; backends fall back to their
	// own environment variables and CLIs when it is empty.
	Token string
	// Host overrides the API host for self-managed instances.
	Host   string
	Runner command.Runner
}

// Info describes a registered backend.
type Info struct {
	Name string
	// Match reports whether the backend serves the given remote URL.
	Match    func(remoteURL string) bool
	Priority int // Higher priority = checked first for auto-detection
}

// Factory creates a gateway.
type Factory func(ctx context.Context, cfg Config) (Gateway, error)

type registered struct {
	info    Info
	factory Factory
}

// Registry maps backend names to factories.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]registered)}
}

// Register adds a backend.
func (r *Registry) Register(info Info, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[info.Name]; exists {
		return fmt.Errorf("hosting backend %s already registered", info.Name)
	}
	r.backends[info.Name] = registered{info: info, factory: factory}

	return nil
}

// Names lists registered backends in detection order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for _, b := range r.sorted() {
		names = append(names, b.info.Name)
	}

	return names
}

func (r *Registry) sorted() []registered {
	all := make([]registered, 0, len(r.backends))
	for _, b := range r.backends {
		all = append(all, b)
	}
	slices.SortFunc(all, func(a, b registered) int {
		if c := cmp.Compare(b.info.Priority, a.info.Priority); c != 0 {
			return c
		}

		return cmp.Compare(a.info.Name, b.info.Name)
	})

	return all
}

// Detect returns the first backend whose Match accepts remoteURL.
func (r *Registry) Detect(remoteURL string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.sorted() {
		if b.info.Match != nil && b.info.Match(remoteURL) {
			return b.info.Name, true
		}
	}

	return "", false
}

// Open creates the gateway named by provider. "auto" or "" picks the first
// backend whose Match accepts cfg.RemoteURL.
func (r *Registry) Open(ctx context.Context, provider string, cfg Config) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider != "" && provider != "auto" {
		b, ok := r.backends[provider]
		if !ok {
			return nil, fmt.Errorf("%w: unknown provider %q", ErrNoBackend, provider)
		}

		return b.factory(ctx, cfg)
	}

	for _, b := range r.sorted() {
		if b.info.Match != nil && b.info.Match(cfg.RemoteURL) {
			return b.factory(ctx, cfg)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoBackend, cfg.RemoteURL)
}
