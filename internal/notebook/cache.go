package notebook

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	cacheExpiration = 30 * time.Minute
	cacheSweep      = 10 * time.Minute

	// selfWriteWindow bounds how long a Save's own rename event may lag
	// before it is treated as an external change again.
	selfWriteWindow = 2 * time.Second
)

// Store caches parsed notebooks by path so repeated operations against the
// same unchanged file skip the read and parse. An fsnotify watcher evicts
// entries when the file changes on disk outside this process.
type Store struct {
	cache   *cache.Cache
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu         sync.Mutex
	watched    map[string]bool      // directories added to the watcher
	selfWrites map[string]time.Time // paths whose next event is our own Save

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStore creates the cache and starts the invalidation watcher.
// Call Close when done.
func NewStore(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create notebook watcher: %w", err)
	}
	s := &Store{
		cache:      cache.New(cacheExpiration, cacheSweep),
		watcher:    watcher,
		logger:     logger,
		watched:    make(map[string]bool),
		selfWrites: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Load returns the parsed notebook at path, from cache when still valid.
func (s *Store) Load(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve notebook path: %w", err)
	}

	if x, found := s.cache.Get(abs); found {
		return x.(*Document), nil
	}

	doc, err := Read(abs)
	if err != nil {
		return nil, err
	}
	s.cache.Set(abs, doc, cache.DefaultExpiration)
	s.watchDir(filepath.Dir(abs))
	return doc, nil
}

// Save writes the document atomically and refreshes the cache entry. The
// path is marked before the write so the watcher does not evict the fresh
// entry when our own rename event arrives.
func (s *Store) Save(path string, doc *Document) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve notebook path: %w", err)
	}

	s.markSelfWrite(abs)
	if err := Write(abs, doc); err != nil {
		s.clearSelfWrite(abs)
		return err
	}
	s.cache.Set(abs, doc, cache.DefaultExpiration)
	s.watchDir(filepath.Dir(abs))
	return nil
}

func (s *Store) markSelfWrite(path string) {
	s.mu.Lock()
	s.selfWrites[path] = time.Now()
	s.mu.Unlock()
}

func (s *Store) clearSelfWrite(path string) {
	s.mu.Lock()
	delete(s.selfWrites, path)
	s.mu.Unlock()
}

// consumeSelfWrite reports whether an event for path was caused by our own
// Save. The marker is single-use and expires after selfWriteWindow.
func (s *Store) consumeSelfWrite(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked, ok := s.selfWrites[path]
	if !ok {
		return false
	}
	delete(s.selfWrites, path)
	return time.Since(marked) < selfWriteWindow
}

// Invalidate drops the cache entry for path. Called when the active
// target file changes.
func (s *Store) Invalidate(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		s.cache.Delete(abs)
	}
}

// Close stops the watcher.
func (s *Store) Close() {
	s.mu.Lock()
	stop := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-s.doneCh
	if err := s.watcher.Close(); err != nil {
		s.logger.Warn("closing notebook watcher", zap.Error(err))
	}
}

// watchDir adds a directory to the watcher once. Directories are watched
// instead of files so renames (our own atomic writes included) keep
// delivering events.
func (s *Store) watchDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watched[dir] {
		return
	}
	if err := s.watcher.Add(dir); err != nil {
		s.logger.Warn("watching notebook directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	s.watched[dir] = true
}

func (s *Store) run() {
	defer close(s.doneCh)

	s.mu.Lock()
	stop := s.stopCh
	s.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("notebook watcher error", zap.Error(err))
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".ipynb") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if s.consumeSelfWrite(abs) {
		return
	}
	s.cache.Delete(abs)
	s.logger.Debug("notebook cache invalidated",
		zap.String("path", abs), zap.String("op", event.Op.String()))
}
