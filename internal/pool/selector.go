// Package pool implements the per-model credential selector: fair round-robin
// rotation over a ring of credential identifiers with an exclusive in-use
// lease, temporary skip windows after transient failures, and owner tags that
// tie each model to the provider adapter that registered it.
package pool

import (
	"sync"
	"time"
)

// DefaultSkipDuration is the cooldown applied after a transient upstream
// failure when the caller does not choose one.
const DefaultSkipDuration = 30 * time.Second

type credential struct {
	inUse bool
}

type modelRing struct {
	ring      []string
	cursor    int
	skipUntil map[string]time.Time
	ownerTag  string
	createdAt time.Time
}

// Selector is the process-wide credential pool.
type Selector struct {
	mu          sync.Mutex
	credentials map[string]*credential
	models      map[string]*modelRing

	now func() time.Time
}

// ModelInfo describes a registered model for the public model catalog.
type ModelInfo struct {
	ID        string
	OwnerTag  string
	CreatedAt time.Time
}

// NewSelector creates an empty selector.
func NewSelector() *Selector {
	return &Selector{
		credentials: make(map[string]*credential),
		models:      make(map[string]*modelRing),
		now:         time.Now,
	}
}

// Register idempotently extends each model's ring with the given credential
// identifiers and records the owner tag. A later registration may update the
// tag to a non-empty value.
func (s *Selector) Register(modelIDs, credentialIDs []string, ownerTag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, credID := range credentialIDs {
		if _, ok := s.credentials[credID]; !ok {
			s.credentials[credID] = &credential{}
		}
	}
	for _, modelID := range modelIDs {
		ring, ok := s.models[modelID]
		if !ok {
			ring = &modelRing{skipUntil: make(map[string]time.Time), createdAt: s.now()}
			s.models[modelID] = ring
		}
		if ownerTag != "" {
			ring.ownerTag = ownerTag
		}
		for _, credID := range credentialIDs {
			if !contains(ring.ring, credID) {
				ring.ring = append(ring.ring, credID)
			}
		}
	}
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Unregister removes a credential from every ring, e.g. after its backing
// file was deleted.
func (s *Selector) Unregister(credentialID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, credentialID)
	for _, ring := range s.models {
		filtered := ring.ring[:0]
		for _, id := range ring.ring {
			if id != credentialID {
				filtered = append(filtered, id)
			}
		}
		ring.ring = filtered
		if len(ring.ring) > 0 {
			ring.cursor %= len(ring.ring)
		} else {
			ring.cursor = 0
		}
		delete(ring.skipUntil, credentialID)
	}
}

// Acquire leases a credential for the model. It scans at most one full ring
// starting at the cursor, advancing the cursor on every step regardless of
// outcome. A candidate is returned only if it is not leased, not inside a
// skip window, still registered, and not in the exclude list. The returned
// identifier is atomically marked in use; an empty string means no credential
// is currently available.
func (s *Selector) Acquire(modelID string, exclude ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.models[modelID]
	if !ok || len(ring.ring) == 0 {
		return ""
	}
	now := s.now()
	for i := 0; i < len(ring.ring); i++ {
		candidate := ring.ring[ring.cursor%len(ring.ring)]
		ring.cursor = (ring.cursor + 1) % len(ring.ring)
		if contains(exclude, candidate) {
			continue
		}
		if until, skipped := ring.skipUntil[candidate]; skipped && until.After(now) {
			continue
		}
		cred, exists := s.credentials[candidate]
		if !exists || cred.inUse {
			continue
		}
		cred.inUse = true
		return candidate
	}
	return ""
}

// Release clears the in-use lease. It is idempotent and must be called exactly
// once per successful Acquire on every exit path.
func (s *Selector) Release(credentialID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred, ok := s.credentials[credentialID]; ok {
		cred.inUse = false
	}
}

// Skip excludes the (model, credential) pair from selection for the given
// duration. A negative duration falls back to the default window; an explicit
// zero records an already-expired window and leaves the pair selectable.
func (s *Selector) Skip(modelID, credentialID string, duration time.Duration) {
	if duration < 0 {
		duration = DefaultSkipDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ring, ok := s.models[modelID]; ok {
		ring.skipUntil[credentialID] = s.now().Add(duration)
	}
}

// ClearSkip removes the skip window for the pair; called after a successful
// request with that credential.
func (s *Selector) ClearSkip(modelID, credentialID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ring, ok := s.models[modelID]; ok {
		delete(ring.skipUntil, credentialID)
	}
}

// Models lists the registered models with their owner tags.
func (s *Selector) Models() []ModelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]ModelInfo, 0, len(s.models))
	for id, ring := range s.models {
		infos = append(infos, ModelInfo{ID: id, OwnerTag: ring.ownerTag, CreatedAt: ring.createdAt})
	}
	return infos
}

// OwnerTag returns the adapter tag recorded for a model.
func (s *Selector) OwnerTag(modelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.models[modelID]
	if !ok {
		return "", false
	}
	return ring.ownerTag, true
}
