// Package mediacache stores generated Grok media (images, videos) on disk
// under data/temp/<kind>/. Cache keys are the remote asset path with slashes
// flattened to dashes. The directory is size-capped; eviction removes the
// oldest files by mtime and runs asynchronously with at most one sweep at a
// time. Fetching is delegated to the provider client so downloads share its
// proxy rotation and retry policy.
package mediacache

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// FetchFunc downloads a remote asset. Implementations apply provider headers,
// proxy selection and retries; the cache only consumes the body.
type FetchFunc func(ctx context.Context, assetPath, cookie string, timeout time.Duration) (*http.Response, error)

// Cache is one media kind's on-disk store.
type Cache struct {
	kind     string
	dir      string
	maxBytes int64
	timeout  time.Duration
	fetch    FetchFunc

	evicting atomic.Bool
}

// New creates a cache for the given kind rooted at dataDir/temp/<kind>.
func New(dataDir, kind string, maxSizeMB int, timeout time.Duration, fetch FetchFunc) *Cache {
	return &Cache{
		kind:     kind,
		dir:      filepath.Join(dataDir, "temp", kind),
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		timeout:  timeout,
		fetch:    fetch,
	}
}

// Flatten converts a remote asset path into its cache file name.
func Flatten(assetPath string) string {
	return strings.ReplaceAll(strings.TrimPrefix(assetPath, "/"), "/", "-")
}

// Dir returns the cache directory (used by the /images file server).
func (c *Cache) Dir() string { return c.dir }

// Kind returns the media kind.
func (c *Cache) Kind() string { return c.kind }

// Get returns the local path of the asset, downloading it on a miss. Partial
// downloads are never left behind: the body is written to a temp file and
// renamed only on success.
func (c *Cache) Get(ctx context.Context, assetPath, cookie string) (string, error) {
	local := filepath.Join(c.dir, Flatten(assetPath))
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", err
	}

	resp, err := c.fetch(ctx, assetPath, cookie, c.timeout)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mediacache: fetch %s returned %d", assetPath, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.dir, ".download-*")
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err = os.Rename(tmp.Name(), local); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}

	c.scheduleEviction()
	return local, nil
}

// GetAsBase64 downloads the asset, returns it as a data URL, and removes the
// on-disk copy. Used when image_mode is "base64".
func (c *Cache) GetAsBase64(ctx context.Context, assetPath, cookie string) (string, error) {
	local, err := c.Get(ctx, assetPath, cookie)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(local)
	_ = os.Remove(local)
	if err != nil {
		return "", err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(local))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// scheduleEviction starts a background sweep unless one is already running.
func (c *Cache) scheduleEviction() {
	if c.maxBytes <= 0 || !c.evicting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.evicting.Store(false)
		if err := c.evict(); err != nil {
			log.Warnf("mediacache: eviction for %s failed: %v", c.kind, err)
		}
	}()
}

// evict deletes files oldest-mtime-first until the directory is under the cap.
func (c *Cache) evict() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	type fileInfo struct {
		path  string
		size  int64
		mtime time.Time
	}
	var files []fileInfo
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".download-") {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(c.dir, entry.Name()), size: info.Size(), mtime: info.ModTime()})
		total += info.Size()
	}
	if total <= c.maxBytes {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	for _, file := range files {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(file.path); err != nil {
			log.Warnf("mediacache: remove %s: %v", file.path, err)
			continue
		}
		total -= file.size
	}
	return nil
}
