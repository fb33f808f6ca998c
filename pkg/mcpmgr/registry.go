package mcpmgr

import (
	"sort"
	"sync"
)

// ServiceRegistry maps server names to their handles. It is the unit of
// mutual exclusion for add, remove and lookup of a given name.
type ServiceRegistry struct {
	mu       sync.Mutex
	services map[string]ServiceHandle
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]ServiceHandle)}
}

// Register inserts handle under name. It fails with ErrAlreadyRunning when the
// name is present and leaves the existing entry untouched.
func (r *ServiceRegistry) Register(name string, handle ServiceHandle) error {
	return r.registerWith(name, handle, nil)
}

// registerWith inserts handle and runs then while the registry lock is still
// held, so the insert and its follow-up (starting a monitor) are observed as a
// single step. then must not block.
func (r *ServiceRegistry) registerWith(name string, handle ServiceHandle, then func()) error {
	if handle == nil {
		return errNilHandle(name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[name]; exists {
		return alreadyRunning("server", name)
	}
	r.services[name] = handle
	if then != nil {
		then()
	}
	return nil
}

// Lookup returns the handle registered under name. The lock is released
// before returning; callers dispatch against the handle without holding it.
func (r *ServiceRegistry) Lookup(name string) (ServiceHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.services[name]
	if !ok {
		return nil, notFound("server", name)
	}
	return h, nil
}

// Contains reports whether name is registered.
func (r *ServiceRegistry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.services[name]
	return ok
}

// Remove deletes name and returns the handle that was registered. Removing an
// absent name is a no-op.
func (r *ServiceRegistry) Remove(name string) (ServiceHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.services[name]
	if ok {
		delete(r.services, name)
	}
	return h, ok
}

// removeWith deletes name and runs then with the removed handle while the
// registry lock is still held. then must not block.
func (r *ServiceRegistry) removeWith(name string, then func(ServiceHandle)) (ServiceHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.services[name]
	if !ok {
		return nil, false
	}
	delete(r.services, name)
	if then != nil {
		then(h)
	}
	return h, true
}

// whilePresent runs fn with the registry lock held when name is registered and
// reports whether it ran. fn must not block.
func (r *ServiceRegistry) whilePresent(name string, fn func(ServiceHandle)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.services[name]
	if !ok {
		return false
	}
	fn(h)
	return true
}

// RemoveIf deletes name only while it still maps to handle. Monitors use it so
// an eviction never removes a replacement registered under the same name.
func (r *ServiceRegistry) RemoveIf(name string, handle ServiceHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.services[name]; ok && current == handle {
		delete(r.services, name)
		return true
	}
	return false
}

// Names returns a sorted snapshot of the registered names.
func (r *ServiceRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered services.
func (r *ServiceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

// Drain empties the registry and returns what it held.
func (r *ServiceRegistry) Drain() map[string]ServiceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.services
	r.services = make(map[string]ServiceHandle)
	return drained
}
