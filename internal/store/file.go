package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/api/schemas"
)

const profileExt = ".json"

// FileStore persists each profile as one JSON document under a directory,
// named <id>.json. It is the default backend: profiles survive restarts
// without requiring a database.
type FileStore struct {
	dir string
	log *zap.Logger
}

var _ schemas.ProfileStore = (*FileStore)(nil)

// NewFileStore opens (creating if needed) the profile directory. An empty
// dir falls back to ~/.mimic/profiles.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, &schemas.IOError{Op: "resolve home directory", Err: err}
		}
		dir = filepath.Join(home, ".mimic", "profiles")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &schemas.IOError{Op: "create profile directory", Err: err}
	}
	return &FileStore{dir: dir, log: logger.Named("file-store")}, nil
}

// Dir returns the directory the store writes into.
func (s *FileStore) Dir() string {
	return s.dir
}

// SaveProfile writes the document to a temporary file and renames it into
// place, so a crash mid-write never leaves a truncated profile behind.
func (s *FileStore) SaveProfile(_ context.Context, profile *schemas.BehaviorProfile) error {
	if profile == nil || profile.ID == "" {
		return &schemas.ValidationError{Field: "id", Message: "must not be empty"}
	}
	path, err := s.path(profile.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return &schemas.IOError{Op: "encode profile", Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &schemas.IOError{Op: "write profile", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &schemas.IOError{Op: "replace profile", Err: err}
	}
	s.log.Debug("profile saved", zap.String("id", profile.ID), zap.String("path", path))
	return nil
}

// GetProfile reads one document by id.
func (s *FileStore) GetProfile(_ context.Context, id string) (*schemas.BehaviorProfile, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &schemas.NotFoundError{ID: id}
		}
		return nil, &schemas.IOError{Op: "read profile", Err: err}
	}
	var p schemas.BehaviorProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &schemas.IOError{Op: "decode profile", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return &p, nil
}

// DeleteProfile removes the document file.
func (s *FileStore) DeleteProfile(_ context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return &schemas.NotFoundError{ID: id}
		}
		return &schemas.IOError{Op: "delete profile", Err: err}
	}
	return nil
}

// ListProfiles reads every document in the directory, most recently used
// first. Unreadable entries are skipped with a warning rather than failing
// the whole listing.
func (s *FileStore) ListProfiles(ctx context.Context) ([]*schemas.BehaviorProfile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &schemas.IOError{Op: "list profiles", Err: err}
	}

	out := make([]*schemas.BehaviorProfile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), profileExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), profileExt)
		p, err := s.GetProfile(ctx, id)
		if err != nil {
			s.log.Warn("skipping unreadable profile",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

// path maps an id to its document file, rejecting ids that would escape the
// profile directory.
func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id != filepath.Base(id) {
		return "", &schemas.ValidationError{Field: "id", Message: "contains path separators"}
	}
	return filepath.Join(s.dir, id+profileExt), nil
}
