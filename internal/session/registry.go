package session

import (
	"sort"
	"sync"

	"github.com/srg/medlink/pkg/config"
)

// Constructor builds a session for one peripheral. The profile is shared by every session of
// the device type and must be treated as read-only.
type Constructor func(address string, profile *config.Profile, opts Options) Session

// Registry maps device type identifiers to session constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register associates deviceType with constructor. Registering a type again replaces the
// previous constructor.
func (r *Registry) Register(deviceType string, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[deviceType] = constructor
}

// Create builds a session of the given type. It fails with an UnknownDeviceTypeError, and
// constructs nothing, when the type was never registered.
func (r *Registry) Create(deviceType, address string, profile *config.Profile, opts Options) (Session, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[deviceType]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownDeviceTypeError{Type: deviceType}
	}
	return constructor(address, profile, opts), nil
}

// Types returns the registered device types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
