// Package configstore persists the proxy's JSON configuration documents
// (upstreams, routes, filters, load-balance policy, system settings) under a
// data directory, one file per document, and notifies subscribers when a
// document changes either through Put or through an external edit of the
// file on disk.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"clproxy/internal/obslog"
	"clproxy/internal/utils"
)

// Store manages a set of named JSON documents rooted at Dir.
type Store struct {
	dir    string
	log    *obslog.Logger
	mu     sync.RWMutex
	hashes map[string]string // docName -> sha256 of last-seen bytes, for change dedup
	subs   map[string][]chan struct{}

	watcher *fsnotify.Watcher
	closeCh chan struct{}
	closeWg sync.WaitGroup
}

// New creates a Store rooted at dir, creating the directory if necessary.
// It does not start the filesystem watcher; call Watch for that.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("configstore: create dir: %w", err)
	}
	return &Store{
		dir:     dir,
		log:     obslog.New("configstore"),
		hashes:  map[string]string{},
		subs:    map[string][]chan struct{}{},
		closeCh: make(chan struct{}),
	}, nil
}

// path returns the on-disk path for a document name ("upstreams/claude" ->
// dir/upstreams/claude.json).
func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Get reads the document named name into out. If the file does not exist,
// Get leaves out untouched and returns os.ErrNotExist so callers can decide
// on a zero-value default.
func (s *Store) Get(name string, out any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.hashes[name] = utils.HashString(string(data))
	s.mu.Unlock()
	return json.Unmarshal(data, out)
}

// Put serializes v and atomically replaces the document named name: write to
// a temp file in the same directory, fsync, then rename over the target.
// Subscribers registered for name are notified only if the serialized bytes
// actually changed.
func (s *Store) Put(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("configstore: marshal %s: %w", name, err)
	}
	hash := utils.HashString(string(data))

	s.mu.Lock()
	changed := s.hashes[name] != hash
	s.mu.Unlock()

	if err := s.atomicWrite(s.path(name), data); err != nil {
		return err
	}

	s.mu.Lock()
	s.hashes[name] = hash
	s.mu.Unlock()

	if changed {
		s.notify(name)
	}
	return nil
}

func (s *Store) atomicWrite(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("configstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("configstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("configstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("configstore: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("configstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("configstore: rename: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives a signal every time the named
// document changes, whether via Put or an externally detected edit. The
// channel has capacity 1; slow subscribers miss intermediate signals but
// never miss the fact that *something* changed since they last read.
func (s *Store) Subscribe(name string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[name] = append(s.subs[name], ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notify(name string) {
	s.mu.RLock()
	chans := s.subs[name]
	s.mu.RUnlock()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch starts an fsnotify watcher on Dir and treats any write/create/rename
// event on a tracked document's file as an external change: it re-hashes the
// file and, if the content differs from what Put/Get last saw, notifies
// subscribers. Watch blocks until Close is called; run it in a goroutine.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configstore: new watcher: %w", err)
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("configstore: watch dir: %w", err)
	}

	s.closeWg.Add(1)
	defer s.closeWg.Done()

	debounce := map[string]*time.Timer{}
	var dmu sync.Mutex

	for {
		select {
		case <-s.closeCh:
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := docNameFromPath(s.dir, ev.Name)
			if name == "" {
				continue
			}
			dmu.Lock()
			if t, ok := debounce[name]; ok {
				t.Stop()
			}
			debounce[name] = time.AfterFunc(50*time.Millisecond, func() {
				s.checkExternalChange(name)
			})
			dmu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", "error", err)
		}
	}
}

func (s *Store) checkExternalChange(name string) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return
	}
	hash := utils.HashString(string(data))
	s.mu.Lock()
	changed := s.hashes[name] != hash
	s.hashes[name] = hash
	s.mu.Unlock()
	if changed {
		s.log.Info("external config change detected", "doc", name)
		s.notify(name)
	}
}

func docNameFromPath(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return ""
	}
	const ext = ".json"
	if filepath.Ext(rel) != ext {
		return ""
	}
	return rel[:len(rel)-len(ext)]
}

// Close stops the filesystem watcher, if running, and waits for Watch to
// return.
func (s *Store) Close() error {
	close(s.closeCh)
	s.mu.RLock()
	w := s.watcher
	s.mu.RUnlock()
	if w != nil {
		w.Close()
	}
	s.closeWg.Wait()
	return nil
}
