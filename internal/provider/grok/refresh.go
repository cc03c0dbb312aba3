package grok

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	refreshStartDelay = 5 * time.Second
	refreshInterval   = 10 * time.Minute
	refreshStaleAfter = 60 * time.Minute
	refreshTokenPause = time.Second
)

// startRefresher launches the periodic quota refresh loop. Stop() closes it.
func (a *Adapter) startRefresher() {
	a.refreshStop = make(chan struct{})
	a.refreshDone = make(chan struct{})
	go a.refresherLoop()
}

func (a *Adapter) refresherLoop() {
	defer close(a.refreshDone)
	select {
	case <-a.refreshStop:
		return
	case <-time.After(refreshStartDelay):
	}
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		a.refreshStaleTokens()
		select {
		case <-a.refreshStop:
			return
		case <-ticker.C:
		}
	}
}

// refreshStaleTokens polls the normal and heavy buckets for every live token
// whose quota has not been refreshed recently. Tokens are paced one second
// apart so the poll itself does not trip upstream rate limits.
func (a *Adapter) refreshStaleTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
	defer cancel()

	normal, super := a.store.Snapshot()
	pools := []map[string]TokenEntry{normal, super}
	now := time.Now()
	first := true
	for _, pool := range pools {
		for sso, entry := range pool {
			if entry.Status == StatusExpired || entry.FailedCount >= maxFailures {
				continue
			}
			a.refreshMu.Lock()
			last := a.lastRefresh[sso]
			a.refreshMu.Unlock()
			if !last.IsZero() && now.Sub(last) < refreshStaleAfter {
				continue
			}
			if !first {
				select {
				case <-a.refreshStop:
					return
				case <-time.After(refreshTokenPause):
				}
			}
			first = false
			for _, bucket := range []string{normalRateLimitModel, heavyRateLimitModel} {
				if err := a.refreshQuota(ctx, sso, bucket); err != nil {
					log.Debugf("grok: quota refresh (%s) failed: %v", bucket, err)
				}
			}
			a.refreshMu.Lock()
			a.lastRefresh[sso] = time.Now()
			a.refreshMu.Unlock()
		}
	}
}
