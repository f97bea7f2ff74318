package operations

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

var (
	ErrHandlerNotFound   = errors.New("handler not found in registry")
	ErrHandlerRegistered = errors.New("handler already registered")
)

type registeredHandler struct {
	def     Definition
	handler Handler
}

// HandlerRegistry is a store for operation handlers that allows retrieval based on their
// definitions, so operation trees can be assembled from declarative descriptions.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers []registeredHandler
}

// NewHandlerRegistry creates a new empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{}
}

// Register stores handler under def. Registering the same ID and version twice is an error.
func (r *HandlerRegistry) Register(def Definition, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers {
		if h.def.ID == def.ID && h.def.VersionString() == def.VersionString() {
			return fmt.Errorf("%s@%s: %w", def.ID, def.VersionString(), ErrHandlerRegistered)
		}
	}
	r.handlers = append(r.handlers, registeredHandler{def: def, handler: handler})

	return nil
}

// Retrieve returns the handler registered under id and version. A nil version selects the
// highest registered version of id.
func (r *HandlerRegistry) Retrieve(id string, version *semver.Version) (Definition, Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *registeredHandler
	for i, h := range r.handlers {
		if h.def.ID != id {
			continue
		}
		if version != nil {
			if h.def.Version != nil && h.def.Version.Equal(version) {
				return h.def, h.handler, nil
			}

			continue
		}
		if found == nil || newer(h.def.Version, found.def.Version) {
			found = &r.handlers[i]
		}
	}

	if found == nil {
		if version != nil {
			return Definition{}, nil, fmt.Errorf("%s@%s: %w", id, version, ErrHandlerNotFound)
		}

		return Definition{}, nil, fmt.Errorf("%s: %w", id, ErrHandlerNotFound)
	}

	return found.def, found.handler, nil
}

// Parse resolves a reference of the form "id" or "id@version".
func (r *HandlerRegistry) Parse(ref string) (Definition, Handler, error) {
	id, raw, hasVersion := strings.Cut(ref, "@")
	if !hasVersion {
		return r.Retrieve(id, nil)
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return Definition{}, nil, fmt.Errorf("invalid version in %q: %w", ref, err)
	}

	return r.Retrieve(id, v)
}

func newer(a, b *semver.Version) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.GreaterThan(b)
	}
}
