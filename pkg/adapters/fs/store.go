package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/placard/pkg/core"
	"github.com/aretw0/placard/pkg/git"
)

// DefaultSystemDir is the hidden directory holding the lock file.
const DefaultSystemDir = ".placard"

// Store implements core.Store using one file per place, optionally versioned with Git.
type Store struct {
	Path   string
	git    *git.Client
	config Config

	// writeMu serializes writers inside the process; the git lock file
	// serializes them across processes.
	writeMu sync.Mutex

	mu            sync.RWMutex
	serializers   map[string]Serializer
	readOnly      bool
	watcherActive bool
	lastReconcile *time.Time
	writes        uint64
}

// Config holds the configuration for the filesystem store.
type Config struct {
	Path         string
	AutoInit     bool
	Gitless      bool
	MustExist    bool
	ReadOnly     bool
	Logger       *slog.Logger
	SystemDir    string      // e.g. ".placard"
	Format       string      // extension used for new records: "yaml" (default) or "json"
	ErrorHandler func(error) // receives watcher failures
}

// NewStore creates a new filesystem-backed store.
func NewStore(config Config) *Store {
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Format == "" {
		config.Format = "yaml"
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		Path:        config.Path,
		git:         git.NewClient(config.Path, filepath.Join(config.SystemDir, "write.lock"), config.Logger),
		config:      config,
		serializers: DefaultSerializers(),
		readOnly:    config.ReadOnly,
	}
}

// RegisterSerializer adds or replaces the serializer for an extension (e.g. ".toml").
func (s *Store) RegisterSerializer(ext string, serializer Serializer) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serializers[ext] = serializer
}

// Initialize performs the necessary setup for the store (mkdir, git init).
func (s *Store) Initialize(ctx context.Context) error {
	if s.config.MustExist || s.readOnly {
		info, err := os.Stat(s.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("store path does not exist: %s", s.Path)
		}
		if err != nil {
			return fmt.Errorf("failed to stat store path: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", s.Path)
		}
	}
	if s.readOnly {
		return nil
	}

	if err := os.MkdirAll(filepath.Join(s.Path, s.config.SystemDir), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	if s.config.Gitless {
		return nil
	}

	if !git.IsInstalled() {
		return fmt.Errorf("git is not installed")
	}

	wasNewRepo := false
	if !s.git.IsRepo() {
		if !s.config.AutoInit {
			return fmt.Errorf("path is not a git repository: %s", s.Path)
		}
		if err := s.git.Init(); err != nil {
			return fmt.Errorf("failed to git init: %w", err)
		}
		wasNewRepo = true
	}

	mod, err := s.ensureIgnore()
	if err != nil {
		return fmt.Errorf("failed to ensure .gitignore: %w", err)
	}

	if mod && wasNewRepo {
		if err := s.git.Add(".gitignore"); err != nil {
			return fmt.Errorf("failed to add .gitignore: %w", err)
		}
		if err := s.git.Commit(fmt.Sprintf("chore: configure %s ignore", s.config.SystemDir)); err != nil {
			return fmt.Errorf("failed to commit .gitignore: %w", err)
		}
	}
	return nil
}

func (s *Store) ensureIgnore() (bool, error) {
	ignorePath := filepath.Join(s.Path, ".gitignore")
	ignoreEntry := s.config.SystemDir + "/"

	content, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}

	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == ignoreEntry {
			return false, nil
		}
	}

	f, err := os.OpenFile(ignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		if _, err := f.WriteString("\n"); err != nil {
			return false, err
		}
	}
	if _, err := f.WriteString(ignoreEntry + "\n"); err != nil {
		return false, err
	}
	return true, nil
}

// Read implements core.Store.
func (s *Store) Read(ctx context.Context, key string) (core.Snapshot, error) {
	if err := validateKey(key); err != nil {
		return core.Snapshot{}, err
	}
	path, found := s.locate(key)
	if !found {
		return core.Snapshot{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return s.readFile(key, path)
}

// Write implements core.Store.
//
// Workflow:
//  1. Acquire the process and file locks.
//  2. Read the latest record and apply fn on top of it.
//  3. Serialize and write atomically with the next version.
//  4. (If Git enabled) 'git add' and 'git commit' with the change reason from ctx.
func (s *Store) Write(ctx context.Context, key string, fn core.MutationFunc) (core.Snapshot, error) {
	if s.isReadOnly() {
		return core.Snapshot{}, core.ErrReadOnly
	}
	if err := validateKey(key); err != nil {
		return core.Snapshot{}, err
	}

	unlock, err := s.lock()
	if err != nil {
		return core.Snapshot{}, err
	}
	defer unlock()

	current := core.Snapshot{Key: key}
	var previous []byte
	path, found := s.locate(key)
	if found {
		if previous, err = os.ReadFile(path); err != nil {
			return core.Snapshot{}, fmt.Errorf("failed to read file: %w", err)
		}
		current, err = s.readFile(key, path)
		if err != nil {
			return core.Snapshot{}, err
		}
	} else {
		path = filepath.Join(s.Path, filepath.FromSlash(key)+"."+s.config.Format)
	}

	place, err := fn(current)
	if err != nil {
		return core.Snapshot{}, err
	}

	next := core.Snapshot{
		Key:         key,
		Place:       place,
		Version:     current.Version + 1,
		CommittedAt: time.Now().UTC().Truncate(time.Second),
	}

	serializer, err := s.serializerFor(path)
	if err != nil {
		return core.Snapshot{}, err
	}
	data, err := serializer.Serialize(next)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to serialize %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to write file: %w", err)
	}

	if err := s.commit(ctx, path, fmt.Sprintf("update %s to v%d", key, next.Version), false); err != nil {
		return core.Snapshot{}, s.rollback(path, previous, err)
	}

	s.countWrite()
	s.config.Logger.Debug("record written", "key", key, "version", next.Version, "path", path)
	return next, nil
}

// Delete implements core.Store.
func (s *Store) Delete(ctx context.Context, key string) (core.Snapshot, error) {
	if s.isReadOnly() {
		return core.Snapshot{}, core.ErrReadOnly
	}
	if err := validateKey(key); err != nil {
		return core.Snapshot{}, err
	}

	unlock, err := s.lock()
	if err != nil {
		return core.Snapshot{}, err
	}
	defer unlock()

	path, found := s.locate(key)
	if !found {
		return core.Snapshot{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	previous, err := os.ReadFile(path)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to read file: %w", err)
	}
	last, err := s.readFile(key, path)
	if err != nil {
		return core.Snapshot{}, err
	}

	if s.config.Gitless {
		if err := os.Remove(path); err != nil {
			return core.Snapshot{}, fmt.Errorf("failed to delete file: %w", err)
		}
	} else if err := s.commit(ctx, path, "delete "+key, true); err != nil {
		return core.Snapshot{}, s.rollback(path, previous, err)
	}

	s.countWrite()
	last.Version++
	last.Deleted = true
	last.CommittedAt = time.Now().UTC().Truncate(time.Second)
	return last, nil
}

// Keys lists the keys of all stored records, sorted by path.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.Path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), TempFilePrefix) || !s.supported(path) {
			return nil
		}
		key, err := s.resolveKey(path)
		if err != nil {
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return keys, nil
}

// commit records a change in Git. remove stages a deletion with 'git rm'.
func (s *Store) commit(ctx context.Context, path, fallback string, remove bool) error {
	if s.config.Gitless {
		return nil
	}
	rel, err := filepath.Rel(s.Path, path)
	if err != nil {
		return err
	}

	if remove {
		err = s.git.Rm(rel)
	} else {
		err = s.git.Add(rel)
	}
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", rel, err)
	}

	msg := fallback
	if val, ok := ctx.Value(core.ChangeReasonKey).(string); ok && val != "" {
		msg = val
	}
	if err := s.git.Commit(msg); err != nil {
		return fmt.Errorf("failed to git commit: %w", err)
	}
	return nil
}

// rollback undoes a file change whose git commit failed, so a failed write
// leaves neither the working tree nor the index changed. previous is nil when
// the file did not exist. It returns cause, joined with any rollback failure.
func (s *Store) rollback(path string, previous []byte, cause error) error {
	var errs []error
	if rel, err := filepath.Rel(s.Path, path); err == nil {
		if err := s.git.Unstage(rel); err != nil {
			errs = append(errs, fmt.Errorf("failed to unstage %s: %w", rel, err))
		}
	}
	if previous == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove file: %w", err))
		}
	} else if err := writeFileAtomic(path, previous, 0644); err != nil {
		errs = append(errs, fmt.Errorf("failed to restore file: %w", err))
	}

	if len(errs) > 0 {
		s.config.Logger.Error("failed to roll back record", "path", path, "error", errors.Join(errs...))
		return errors.Join(append([]error{cause}, errs...)...)
	}
	s.config.Logger.Warn("rolled back record after failed commit", "path", path, "error", cause)
	return cause
}

// lock takes the in-process mutex and then the cross-process lock file.
func (s *Store) lock() (func(), error) {
	s.writeMu.Lock()
	unlock, err := s.git.Lock()
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("failed to acquire write lock: %w", err)
	}
	return func() {
		unlock()
		s.writeMu.Unlock()
	}, nil
}

// locate finds the file of key with any supported extension, preferring the configured format.
func (s *Store) locate(key string) (string, bool) {
	base := filepath.Join(s.Path, filepath.FromSlash(key))
	preferred := base + "." + s.config.Format
	if _, err := os.Stat(preferred); err == nil {
		return preferred, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for ext := range s.serializers {
		candidate := base + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

func (s *Store) readFile(key, path string) (core.Snapshot, error) {
	serializer, err := s.serializerFor(path)
	if err != nil {
		return core.Snapshot{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Snapshot{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
		}
		return core.Snapshot{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	snap, err := serializer.Parse(f)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	snap.Key = key
	if snap.Version == 0 {
		// Hand-written records start at version 1.
		snap.Version = 1
	}
	return snap, nil
}

func (s *Store) serializerFor(path string) (Serializer, error) {
	ext := strings.ToLower(filepath.Ext(path))
	s.mu.RLock()
	defer s.mu.RUnlock()
	serializer, ok := s.serializers[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported record format %q", ext)
	}
	return serializer, nil
}

func (s *Store) supported(path string) bool {
	_, err := s.serializerFor(path)
	return err == nil
}

// resolveKey maps an absolute path inside the store to its key.
func (s *Store) resolveKey(path string) (string, error) {
	rel, err := filepath.Rel(s.Path, path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside the store", path)
	}
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, filepath.Ext(rel)), nil
}

func (s *Store) isReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

func (s *Store) countWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if filepath.IsAbs(key) || clean != key || strings.HasPrefix(clean, "../") || clean == ".." || strings.HasPrefix(clean, ".") {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}

// IsGitInstalled checks if git is available in the system path.
func IsGitInstalled() bool {
	return git.IsInstalled()
}
