// Package tokencache implements a read-through cache over the per-project
// credential files stored under accounts/<project>/*.json. Entries expire on a
// short TTL and are additionally invalidated by fsnotify events, so external
// edits to a credential file are observed on the next read without waiting
// for expiry. Cross-process coordination is explicitly out of scope.
package tokencache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	entryTTL = 5 * time.Minute
	scanTTL  = 30 * time.Second
)

type entry struct {
	data     []byte
	loadedAt time.Time
}

type projectState struct {
	entries  map[string]*entry
	fileList []string
	lastScan time.Time
	watching bool
}

// Cache is the process-wide credential file cache.
type Cache struct {
	root string

	mu       sync.Mutex
	projects map[string]*projectState

	watcher   *fsnotify.Watcher
	watchOnce sync.Once
	closed    chan struct{}

	now func() time.Time
}

// Stats summarizes cache occupancy for the management surface.
type Stats struct {
	Projects int            `json:"projects"`
	Entries  int            `json:"entries"`
	PerProj  map[string]int `json:"per_project"`
}

// New creates a cache rooted at the accounts directory.
func New(accountsDir string) *Cache {
	return &Cache{
		root:     accountsDir,
		projects: make(map[string]*projectState),
		closed:   make(chan struct{}),
		now:      time.Now,
	}
}

// Close stops the filesystem watcher.
func (c *Cache) Close() {
	c.mu.Lock()
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	close(c.closed)
	if watcher != nil {
		_ = watcher.Close()
	}
}

func (c *Cache) projectDir(project string) string {
	return filepath.Join(c.root, filepath.Base(project))
}

func (c *Cache) filePath(project, filename string) string {
	return filepath.Join(c.projectDir(project), filepath.Base(filename))
}

func (c *Cache) stateLocked(project string) *projectState {
	state, ok := c.projects[project]
	if !ok {
		state = &projectState{entries: make(map[string]*entry)}
		c.projects[project] = state
	}
	return state
}

// GetToken returns a copy of the parsed-checked JSON credential file, reading
// from disk when the cached entry is stale or absent. A missing file returns
// nil and evicts any cached entry.
func (c *Cache) GetToken(project, filename string) []byte {
	c.mu.Lock()
	state := c.stateLocked(project)
	if cached, ok := state.entries[filename]; ok && c.now().Sub(cached.loadedAt) < entryTTL {
		data := append([]byte(nil), cached.data...)
		c.mu.Unlock()
		return data
	}
	c.mu.Unlock()

	data, err := os.ReadFile(c.filePath(project, filename))
	if err != nil {
		c.mu.Lock()
		delete(c.stateLocked(project).entries, filename)
		c.mu.Unlock()
		if !os.IsNotExist(err) {
			log.Warnf("tokencache: read %s/%s: %v", project, filename, err)
		}
		return nil
	}
	if !json.Valid(data) {
		log.Warnf("tokencache: %s/%s is not valid JSON; treating as absent", project, filename)
		c.mu.Lock()
		delete(c.stateLocked(project).entries, filename)
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.stateLocked(project).entries[filename] = &entry{data: append([]byte(nil), data...), loadedAt: c.now()}
	c.mu.Unlock()
	return data
}

// GetTokenList returns the *.json filenames of a project directory, rescanning
// at most every 30 seconds. The first scan installs a directory watcher.
func (c *Cache) GetTokenList(project string) []string {
	c.mu.Lock()
	state := c.stateLocked(project)
	if !state.lastScan.IsZero() && c.now().Sub(state.lastScan) < scanTTL {
		list := append([]string(nil), state.fileList...)
		c.mu.Unlock()
		return list
	}
	needWatch := !state.watching
	c.mu.Unlock()

	dir := c.projectDir(project)
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("tokencache: scan %s: %v", dir, err)
		}
		dirEntries = nil
	}
	files := make([]string, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		name := dirEntry.Name()
		if strings.HasSuffix(strings.ToLower(name), ".json") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	if needWatch {
		c.watchProject(project, dir)
	}

	c.mu.Lock()
	state = c.stateLocked(project)
	state.fileList = files
	state.lastScan = c.now()
	list := append([]string(nil), state.fileList...)
	c.mu.Unlock()
	return list
}

// GetAllTokens reads every credential file of a project concurrently and
// returns filename→contents for the files that exist.
func (c *Cache) GetAllTokens(ctx context.Context, project string) map[string][]byte {
	files := c.GetTokenList(project)
	results := make(map[string][]byte, len(files))
	var resultsMu sync.Mutex
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for _, filename := range files {
		name := filename
		group.Go(func() error {
			if data := c.GetToken(project, name); data != nil {
				resultsMu.Lock()
				results[name] = data
				resultsMu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// PreloadProject eagerly populates every entry of a project.
func (c *Cache) PreloadProject(ctx context.Context, project string) {
	tokens := c.GetAllTokens(ctx, project)
	log.Debugf("tokencache: preloaded %d credential files for project %s", len(tokens), project)
}

// InvalidateToken evicts a single cached file.
func (c *Cache) InvalidateToken(project, filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stateLocked(project).entries, filename)
}

// InvalidateProject evicts every cached file of a project and forces the next
// GetTokenList to rescan the directory.
func (c *Cache) InvalidateProject(project string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateLocked(project)
	state.entries = make(map[string]*entry)
	state.lastScan = time.Time{}
}

// SaveToken writes a credential file and keeps the cache consistent.
func (c *Cache) SaveToken(project, filename string, data []byte) error {
	dir := c.projectDir(project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(c.filePath(project, filename), data, 0o600); err != nil {
		return err
	}
	c.mu.Lock()
	state := c.stateLocked(project)
	delete(state.entries, filename)
	state.lastScan = time.Time{}
	c.mu.Unlock()
	return nil
}

// DeleteToken unlinks a credential file and evicts it.
func (c *Cache) DeleteToken(project, filename string) error {
	err := os.Remove(c.filePath(project, filename))
	c.mu.Lock()
	state := c.stateLocked(project)
	delete(state.entries, filename)
	state.lastScan = time.Time{}
	c.mu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Stats reports cached entry counts per project.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{PerProj: make(map[string]int, len(c.projects))}
	for name, state := range c.projects {
		stats.Projects++
		stats.Entries += len(state.entries)
		stats.PerProj[name] = len(state.entries)
	}
	return stats
}

// watchProject registers the project directory with the shared fsnotify
// watcher. Watcher errors degrade the cache to TTL-only behavior.
func (c *Cache) watchProject(project, dir string) {
	c.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warnf("tokencache: watcher unavailable, falling back to TTL-only invalidation: %v", err)
			return
		}
		c.mu.Lock()
		c.watcher = watcher
		c.mu.Unlock()
		go c.watchLoop(watcher)
	})

	c.mu.Lock()
	watcher := c.watcher
	state := c.stateLocked(project)
	alreadyWatching := state.watching
	c.mu.Unlock()
	if watcher == nil || alreadyWatching {
		return
	}
	if err := watcher.Add(dir); err != nil {
		log.Warnf("tokencache: watch %s: %v", dir, err)
		return
	}
	c.mu.Lock()
	c.stateLocked(project).watching = true
	c.mu.Unlock()
}

func (c *Cache) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-c.closed:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("tokencache: watcher error: %v", err)
		}
	}
}

// handleEvent invalidates the changed file and resets the project scan stamp
// so creates and deletes show up on the next list call.
func (c *Cache) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		return
	}
	project := filepath.Base(filepath.Dir(event.Name))
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	log.Debugf("tokencache: fs event %s on %s/%s", event.Op, project, name)
	c.mu.Lock()
	state := c.stateLocked(project)
	delete(state.entries, name)
	state.lastScan = time.Time{}
	c.mu.Unlock()
}
