package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const keySuffix = ".key"

// FileStore keeps one key per file under Dir. Files are written with mode
// 0600; files with wider permissions are refused on read.
type FileStore struct {
	dir string

	mu    sync.Mutex
	known map[string]string

	events  chan Event
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
	closed  bool
	once    sync.Once
}

// NewFileStore opens (creating if needed) a key directory. When watch is
// true the directory is monitored and changes made by other processes are
// reported on Events.
func NewFileStore(dir string, watch bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat credentials directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("credentials path is not a directory: %s", dir)
	}

	s := &FileStore{
		dir:    dir,
		known:  make(map[string]string),
		events: make(chan Event, 32),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	ids, err := s.List(context.Background())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if v, err := s.read(id); err == nil {
			s.known[id] = v
		}
	}

	if !watch {
		close(s.done)
		slog.Info("credential store opened", "path", dir, "keys", len(ids))
		return s, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch credentials directory: %w", err)
	}
	s.watcher = watcher
	go s.watchLoop()

	slog.Info("credential store opened with watching", "path", dir, "keys", len(ids))
	return s, nil
}

// Dir returns the key directory.
func (s *FileStore) Dir() string { return s.dir }

// Events returns credential change notifications. The channel is closed by
// Close.
func (s *FileStore) Events() <-chan Event { return s.events }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+keySuffix)
}

func (s *FileStore) read(id string) (string, error) {
	path := s.path(id)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat key file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("key path is not a regular file: %s", path)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	// #nosec G304 - id is validated and the path is confined to dir
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, providerID string) (string, error) {
	if err := ValidateID(providerID); err != nil {
		return "", err
	}
	return s.read(providerID)
}

// Has implements Store.
func (s *FileStore) Has(ctx context.Context, providerID string) (bool, error) {
	_, err := s.Get(ctx, providerID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Set implements Store. The key is written to a temporary file and renamed
// into place.
func (s *FileStore) Set(_ context.Context, providerID, key string) error {
	if err := ValidateID(providerID); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("key for %q is empty", providerID)
	}

	tmp, err := os.CreateTemp(s.dir, "."+providerID+"-*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set key file permissions: %w", err)
	}
	if _, err := tmp.WriteString(key + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(providerID)); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	s.sync(providerID)
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, providerID string) error {
	if err := ValidateID(providerID); err != nil {
		return err
	}
	if err := os.Remove(s.path(providerID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	s.sync(providerID)
	return nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		id, ok := strings.CutSuffix(entry.Name(), keySuffix)
		if !ok || ValidateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// sync compares the file for id against the last known value and emits an
// event when it changed.
func (s *FileStore) sync(id string) {
	value, err := s.read(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Warn("failed to read key after change", "provider", id, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.known[id]
	var ev Event
	switch {
	case value == "" && had:
		delete(s.known, id)
		ev = Event{Provider: id, Op: OpRemoved}
	case value != "" && !had:
		s.known[id] = value
		ev = Event{Provider: id, Op: OpAdded}
	case value != "" && value != prev:
		s.known[id] = value
		ev = Event{Provider: id, Op: OpUpdated}
	default:
		return
	}

	if s.closed {
		return
	}
	select {
	case s.events <- ev:
		slog.Debug("credential changed", "provider", id, "op", ev.Op)
	default:
		slog.Warn("credential event dropped", "provider", id, "op", ev.Op)
	}
}

// Close stops watching and closes the Events channel.
func (s *FileStore) Close() error {
	var err error
	s.once.Do(func() {
		if s.watcher != nil {
			close(s.stopCh)
			err = s.watcher.Close()
		}
		<-s.done

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return err
}

func (s *FileStore) watchLoop() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			id, isKey := strings.CutSuffix(filepath.Base(event.Name), keySuffix)
			if !isKey || ValidateID(id) != nil {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.sync(id)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("credential watcher error", "error", err)

		case <-s.stopCh:
			return
		}
	}
}
