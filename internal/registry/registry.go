// Package registry maps public model ids onto provider adapters. Registration
// happens explicitly at startup; there is no discovery mechanism. The ingress
// handlers look up the adapter for the requested model and hand it the
// normalized request.
package registry

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

// Result is what an adapter returns for a handled request. Stream carries
// OpenAI SSE frames; Release returns pooled resources and must be called
// exactly once, on every exit path.
type Result struct {
	Stream  io.ReadCloser
	Release func()
}

// Close releases the stream and pooled resources.
func (r *Result) Close() {
	if r == nil {
		return
	}
	if r.Stream != nil {
		_ = r.Stream.Close()
	}
	if r.Release != nil {
		release := r.Release
		r.Release = nil
		release()
	}
}

// Adapter is the provider contract. Handle drives the upstream web session
// and returns an OpenAI-SSE stream regardless of the upstream wire format.
type Adapter interface {
	Models() []string
	Handle(ctx context.Context, callerKey string, request *translator.MiddleContent) (*Result, error)
}

// ModelEntry is one row of the public model catalog.
type ModelEntry struct {
	ID        string
	OwnerTag  string
	CreatedAt time.Time
}

// Registry is the model→adapter table.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	entries  map[string]ModelEntry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		entries:  make(map[string]ModelEntry),
	}
}

// Register binds every model of the adapter to it under the given owner tag.
// Registering an already known model overwrites the binding.
func (r *Registry) Register(adapter Adapter, ownerTag string) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, model := range adapter.Models() {
		r.adapters[model] = adapter
		if existing, ok := r.entries[model]; ok {
			existing.OwnerTag = ownerTag
			r.entries[model] = existing
			continue
		}
		r.entries[model] = ModelEntry{ID: model, OwnerTag: ownerTag, CreatedAt: now}
	}
}

// Lookup returns the adapter serving a model.
func (r *Registry) Lookup(model string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[model]
	return adapter, ok
}

// Models lists the catalog sorted by id.
func (r *Registry) Models() []ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]ModelEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
