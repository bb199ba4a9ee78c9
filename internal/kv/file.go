package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileStore keeps one file per key inside a directory. Writes go to a
// temporary file first and are renamed into place, so readers never observe
// a partial document.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu sync.RWMutex

	// hashes of the content this process last wrote, used to tell our own
	// writes apart from writes made by other processes.
	hashMu sync.Mutex
	hashes map[string]string
}

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    dir,
		logger: logger,
		hashes: make(map[string]string),
	}, nil
}

func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(key string) (string, error) {
	if !validKey.MatchString(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("file store: invalid key %q", key)
	}
	return filepath.Join(f.dir, key), nil
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("file store: read %s: %w", key, err)
	}
	return data, nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("file store: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: rename %s: %w", key, err)
	}

	f.rememberWrite(key, value)
	return nil
}

func (f *FileStore) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, key := range keys {
		p, err := f.path(key)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("file store: delete %s: %w", key, err)
		}
		f.rememberWrite(key, nil)
	}
	return nil
}

func (f *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("file store: list: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStore) Ping(context.Context) error {
	_, err := os.Stat(f.dir)
	return err
}

func (f *FileStore) rememberWrite(key string, value []byte) {
	f.hashMu.Lock()
	defer f.hashMu.Unlock()
	f.hashes[key] = contentHash(value)
}

func (f *FileStore) isOwnWrite(key string, value []byte) bool {
	f.hashMu.Lock()
	defer f.hashMu.Unlock()
	h, ok := f.hashes[key]
	return ok && h == contentHash(value)
}

func contentHash(b []byte) string {
	if b == nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Watch calls fn with the key of every file changed by another process.
// Bursts of events are debounced. Watch blocks until ctx is done.
func (f *FileStore) Watch(ctx context.Context, debounce time.Duration, fn func(key string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file store: watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(f.dir); err != nil {
		return fmt.Errorf("file store: watch %s: %w", f.dir, err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			key := filepath.Base(ev.Name)
			if strings.HasPrefix(key, ".") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[key] = struct{}{}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("file store watcher error", "dir", f.dir, "error", err)
		case <-timer.C:
			for key := range pending {
				delete(pending, key)
				data, err := f.Get(ctx, key)
				if err != nil && !errors.Is(err, ErrNotFound) {
					continue
				}
				if f.isOwnWrite(key, data) {
					continue
				}
				f.logger.Debug("external change detected", "key", key)
				fn(key)
			}
		}
	}
}
