package grok

import (
	"net/http"
	"sort"

	"github.com/router-for-me/WebProxyAPI/internal/registry"
)

// rankedToken pairs an SSO value with the quota used for ordering.
type rankedToken struct {
	sso       string
	remaining int64
}

// SelectToken picks the SSO token to serve a request for the model. Tokens
// with unknown quota are preferred over tokens with a known residual, known
// residuals are consumed highest-first, and the super pool is only touched
// once the normal pool is empty. Heavy models consider super tokens only.
func (s *Store) SelectToken(model Model) (string, error) {
	normal, super := s.Snapshot()
	heavy := model.ID == heavyModelID

	var ordered []rankedToken
	if !heavy && !model.RequiresSuper {
		ordered = append(ordered, rankPool(normal, heavy)...)
	}
	ordered = append(ordered, rankPool(super, heavy)...)

	if len(ordered) == 0 {
		return "", registry.NewStatusError(http.StatusServiceUnavailable, "no grok account available")
	}
	return ordered[0].sso, nil
}

// rankPool orders one map's eligible entries: unknown quota first (insertion
// age ascending for stability), then known quota descending.
func rankPool(pool map[string]TokenEntry, heavy bool) []rankedToken {
	var unused, used []rankedToken
	ages := make(map[string]int64, len(pool))
	for sso, entry := range pool {
		if !entry.Eligible(heavy) {
			continue
		}
		ages[sso] = entry.CreatedTime
		remaining := entry.quota(heavy)
		if remaining == QuotaUnknown {
			unused = append(unused, rankedToken{sso: sso, remaining: remaining})
		} else {
			used = append(used, rankedToken{sso: sso, remaining: remaining})
		}
	}
	sort.Slice(unused, func(i, j int) bool {
		if ages[unused[i].sso] != ages[unused[j].sso] {
			return ages[unused[i].sso] < ages[unused[j].sso]
		}
		return unused[i].sso < unused[j].sso
	})
	sort.Slice(used, func(i, j int) bool {
		if used[i].remaining != used[j].remaining {
			return used[i].remaining > used[j].remaining
		}
		return used[i].sso < used[j].sso
	})
	return append(unused, used...)
}
