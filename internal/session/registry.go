package session

import (
	"sync"
	"time"
)

// Entry is the registry view of one session. The Handle field is owned
// exclusively by the supervisor while live; other components read it
// fresh per use and never retain it.
type Entry struct {
	Key               Key
	Status            Status
	Jid               string
	QRPayload         string
	Handle            Handle
	LastActivityAt    time.Time
	ReconnectAttempts int
	HealthFailures    int
	IsDefault         bool
}

// Registry is a concurrency-safe map keyed by (tenant, session).
// Removing the last session of a tenant removes the tenant bucket.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]map[string]*Entry)}
}

// Get returns a snapshot copy of the entry.
func (r *Registry) Get(key Key) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tenants[key.Tenant][key.Session]; ok {
		return *e, true
	}
	return Entry{}, false
}

// Update applies fn to the entry under the registry lock, creating the
// entry if absent. All supervisor transitions go through here so that
// a read-modify-write is atomic.
func (r *Registry) Update(key Key, fn func(*Entry)) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.tenants[key.Tenant]
	if !ok {
		bucket = make(map[string]*Entry)
		r.tenants[key.Tenant] = bucket
	}
	e, ok := bucket[key.Session]
	if !ok {
		e = &Entry{
			Key:            key,
			Status:         StatusAbsent,
			LastActivityAt: time.Now(),
			// the tenant's first session is its default
			IsDefault: len(bucket) == 0,
		}
		bucket[key.Session] = e
	}
	fn(e)
	return *e
}

// Touch refreshes the activity timestamp if the entry exists.
func (r *Registry) Touch(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tenants[key.Tenant][key.Session]; ok {
		e.LastActivityAt = time.Now()
	}
}

// Remove deletes the entry and prunes an emptied tenant bucket.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.tenants[key.Tenant]
	if !ok {
		return
	}
	delete(bucket, key.Session)
	if len(bucket) == 0 {
		delete(r.tenants, key.Tenant)
	}
}

// ListTenant returns snapshot copies of every session of a tenant.
func (r *Registry) ListTenant(tenant string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.tenants[tenant]
	out := make([]Entry, 0, len(bucket))
	for _, e := range bucket {
		out = append(out, *e)
	}
	return out
}

// Snapshot returns copies of all entries across tenants.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, bucket := range r.tenants {
		for _, e := range bucket {
			out = append(out, *e)
		}
	}
	return out
}

// LiveHandle returns the connected handle for the key, or nil. Callers
// borrow the handle for a single operation and must not cache it.
func (r *Registry) LiveHandle(key Key) Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tenants[key.Tenant][key.Session]; ok && e.Status == StatusConnected {
		return e.Handle
	}
	return nil
}
