package grok

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/router-for-me/WebProxyAPI/internal/tokencache"
)

// Project is the accounts/ subdirectory holding the Grok token store.
const Project = "grok"

// TokenFile is the single store file under accounts/grok/.
const TokenFile = "token.json"

const (
	// StatusActive and StatusExpired are the two token lifecycle states.
	StatusActive  = "active"
	StatusExpired = "expired"

	maxFailures = 3

	// QuotaUnknown marks a quota that has never been observed.
	QuotaUnknown = -1
)

// Token kinds, matching the two maps in token.json.
const (
	KindNormal = "ssoNormal"
	KindSuper  = "ssoSuper"
)

// TokenEntry is one SSO token's stored state.
type TokenEntry struct {
	CreatedTime           int64  `json:"createdTime"`
	RemainingQueries      int64  `json:"remainingQueries"`
	HeavyRemainingQueries int64  `json:"heavyremainingQueries"`
	Status                string `json:"status"`
	FailedCount           int    `json:"failedCount"`
	LastFailureTime       int64  `json:"lastFailureTime,omitempty"`
	LastFailureReason     string `json:"lastFailureReason,omitempty"`
}

// Eligible reports whether the entry may serve a request against the given
// quota tier. A quota of 0 is exhausted; -1 means unknown and stays eligible.
func (e *TokenEntry) Eligible(heavy bool) bool {
	if e == nil || e.Status == StatusExpired || e.FailedCount >= maxFailures {
		return false
	}
	return e.quota(heavy) != 0
}

func (e *TokenEntry) quota(heavy bool) int64 {
	if heavy {
		return e.HeavyRemainingQueries
	}
	return e.RemainingQueries
}

type storeData struct {
	SSONormal map[string]*TokenEntry `json:"ssoNormal"`
	SSOSuper  map[string]*TokenEntry `json:"ssoSuper"`
}

// Store is the accounts/grok/token.json repository. All reads go through the
// shared token-file cache so external edits picked up by the watcher are
// visible here; every mutation writes the whole file back.
type Store struct {
	mu    sync.Mutex
	cache *tokencache.Cache
	now   func() time.Time
}

// NewStore wraps the shared cache as the Grok token repository.
func NewStore(cache *tokencache.Cache) *Store {
	return &Store{cache: cache, now: time.Now}
}

func (s *Store) load() storeData {
	data := storeData{}
	if raw := s.cache.GetToken(Project, TokenFile); raw != nil {
		_ = json.Unmarshal(raw, &data)
	}
	if data.SSONormal == nil {
		data.SSONormal = make(map[string]*TokenEntry)
	}
	if data.SSOSuper == nil {
		data.SSOSuper = make(map[string]*TokenEntry)
	}
	return data
}

func (s *Store) save(data storeData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return s.cache.SaveToken(Project, TokenFile, raw)
}

// Snapshot returns a deep copy of both token maps.
func (s *Store) Snapshot() (normal, super map[string]TokenEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.load()
	copyMap := func(src map[string]*TokenEntry) map[string]TokenEntry {
		out := make(map[string]TokenEntry, len(src))
		for sso, entry := range src {
			if entry != nil {
				out[sso] = *entry
			}
		}
		return out
	}
	return copyMap(data.SSONormal), copyMap(data.SSOSuper)
}

// Add inserts a token into the named map with unknown quotas. Re-adding an
// existing token resets it to a fresh active entry.
func (s *Store) Add(kind, sso string) error {
	target, err := validKind(kind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.load()
	entry := &TokenEntry{
		CreatedTime:           s.now().UnixMilli(),
		RemainingQueries:      QuotaUnknown,
		HeavyRemainingQueries: QuotaUnknown,
		Status:                StatusActive,
	}
	if target == KindSuper {
		data.SSOSuper[sso] = entry
	} else {
		data.SSONormal[sso] = entry
	}
	return s.save(data)
}

// Delete removes a token from the named map. It reports whether the token
// existed.
func (s *Store) Delete(kind, sso string) (bool, error) {
	target, err := validKind(kind)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.load()
	var found bool
	if target == KindSuper {
		_, found = data.SSOSuper[sso]
		delete(data.SSOSuper, sso)
	} else {
		_, found = data.SSONormal[sso]
		delete(data.SSONormal, sso)
	}
	if !found {
		return false, nil
	}
	return true, s.save(data)
}

// UpdateLimits writes an observed quota back for the token, whichever map it
// lives in.
func (s *Store) UpdateLimits(sso string, heavy bool, remaining int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.load()
	entry := findEntry(data, sso)
	if entry == nil {
		return fmt.Errorf("grok: unknown token")
	}
	if heavy {
		entry.HeavyRemainingQueries = remaining
	} else {
		entry.RemainingQueries = remaining
	}
	return s.save(data)
}

// RecordFailure increments the token's failure count. Once the count reaches
// the cap and the triggering status is a 4xx, the token is marked expired.
func (s *Store) RecordFailure(sso string, httpStatus int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.load()
	entry := findEntry(data, sso)
	if entry == nil {
		return fmt.Errorf("grok: unknown token")
	}
	entry.FailedCount++
	entry.LastFailureTime = s.now().UnixMilli()
	entry.LastFailureReason = reason
	if entry.FailedCount >= maxFailures && httpStatus >= 400 && httpStatus < 500 {
		entry.Status = StatusExpired
	}
	return s.save(data)
}

// ResetFailures clears the failure count after a successful call.
func (s *Store) ResetFailures(sso string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.load()
	entry := findEntry(data, sso)
	if entry == nil {
		return fmt.Errorf("grok: unknown token")
	}
	if entry.FailedCount == 0 {
		return nil
	}
	entry.FailedCount = 0
	return s.save(data)
}

func findEntry(data storeData, sso string) *TokenEntry {
	if entry, ok := data.SSONormal[sso]; ok {
		return entry
	}
	if entry, ok := data.SSOSuper[sso]; ok {
		return entry
	}
	return nil
}

func validKind(kind string) (string, error) {
	switch kind {
	case KindNormal, KindSuper:
		return kind, nil
	case "":
		return KindNormal, nil
	}
	return "", fmt.Errorf("grok: unknown token kind %q", kind)
}
