package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LockTimeout is the maximum time to wait for the store's file lock.
// If exceeded, writes proceed without the lock (fail-open) so the CLI never hangs.
const LockTimeout = 100 * time.Millisecond

// Backend reads and writes the raw credential document.
type Backend interface {
	// Read returns the current document, or nil with no error if none exists.
	Read() ([]byte, error)

	// Write replaces the whole document.
	Write(data []byte) error

	// Lock guards a read-modify-write cycle. The returned func releases it.
	Lock() (unlock func(), err error)

	// Location describes where the document lives, for log lines.
	Location() string
}

// Store persists credentials keyed by principal ID. Every mutation rewrites
// the full document. It assumes a single writer process.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu sync.Mutex
}

// NewStore creates a store backed by a JSON file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	return NewStoreWithBackend(NewFileBackend(path), logger)
}

// NewStoreWithBackend creates a store over an arbitrary backend.
func NewStoreWithBackend(b Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{backend: b, logger: logger}
}

// Location returns where credentials are persisted.
func (s *Store) Location() string {
	return s.backend.Location()
}

// LoadAll returns every stored credential. A missing, unreadable, or
// corrupted document yields an empty map and a warning; it never fails.
func (s *Store) LoadAll() map[int64]*Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Get returns the credential for id, if present.
func (s *Store) Get(id int64) (*Credential, bool) {
	all := s.LoadAll()
	c, ok := all[id]
	return c, ok
}

// Save upserts c by principal ID and rewrites the document.
func (s *Store) Save(c *Credential) error {
	if c == nil {
		return errors.New("cannot save nil credential")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.backend.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	all := s.loadLocked()
	stored := c.clone()
	stored.normalize()
	all[c.PrincipalID] = stored
	if err := s.writeLocked(all); err != nil {
		return err
	}

	s.logger.Info("saved credential",
		"athlete_id", c.PrincipalID,
		"athlete_name", c.PrincipalName,
		"expires_at", time.Unix(c.ExpiresAt, 0).UTC().Format(time.RFC3339),
	)
	return nil
}

// Delete removes the credential for id. It reports false if none was stored.
func (s *Store) Delete(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.backend.Lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	all := s.loadLocked()
	if _, ok := all[id]; !ok {
		return false, nil
	}
	delete(all, id)
	if err := s.writeLocked(all); err != nil {
		return false, err
	}

	s.logger.Info("deleted credential", "athlete_id", id)
	return true, nil
}

// List returns principal ID to display name for every stored credential.
func (s *Store) List() map[int64]string {
	all := s.LoadAll()
	names := make(map[int64]string, len(all))
	for id, c := range all {
		names[id] = c.PrincipalName
	}
	return names
}

// IDs returns the stored principal IDs in ascending order.
func (s *Store) IDs() []int64 {
	all := s.LoadAll()
	ids := make([]int64, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) loadLocked() map[int64]*Credential {
	all := make(map[int64]*Credential)

	data, err := s.backend.Read()
	if err != nil {
		s.logger.Warn("credential store unreadable, treating as empty",
			"location", s.backend.Location(),
			"error", err.Error(),
		)
		return all
	}
	if len(data) == 0 {
		return all
	}

	var doc map[string]*Credential
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("credential store corrupted, treating as empty",
			"location", s.backend.Location(),
			"error", fmt.Errorf("%w: %w", ErrStorageCorruption, err).Error(),
		)
		return all
	}

	for key, c := range doc {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || c == nil {
			s.logger.Warn("skipping malformed credential record",
				"location", s.backend.Location(),
				"key", key,
			)
			continue
		}
		c.PrincipalID = id
		c.normalize()
		all[id] = c
	}
	return all
}

func (s *Store) writeLocked(all map[int64]*Credential) error {
	doc := make(map[string]*Credential, len(all))
	for id, c := range all {
		doc[strconv.FormatInt(id, 10)] = c
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := s.backend.Write(data); err != nil {
		return fmt.Errorf("failed to write credential store at %s: %w", s.backend.Location(), err)
	}
	return nil
}

// FileBackend stores the document as a plaintext JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend creates a file backend for path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Location returns the file path.
func (b *FileBackend) Location() string {
	return b.path
}

// Read returns the file contents, or nil if the file does not exist.
func (b *FileBackend) Read() ([]byte, error) {
	data, err := os.ReadFile(b.path) //nolint:gosec // G304: Path is from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Write replaces the file atomically via a temp file and rename.
func (b *FileBackend) Write(data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(b.path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when the destination exists.
	if err := os.Rename(tmpPath, b.path); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(b.path)
			return os.Rename(tmpPath, b.path)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Lock takes an exclusive lock on a sibling ".lock" file.
//
// Fail-open: if the lock is not acquired within LockTimeout the returned
// unlock is a no-op and the write proceeds unguarded.
func (b *FileBackend) Lock() (func(), error) {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(b.path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return func() {}, nil
		}
		return nil, err
	}
	if !locked {
		return func() {}, nil
	}

	return func() { _ = fl.Unlock() }, nil
}
