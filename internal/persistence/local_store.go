package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/taskmesh/engine/internal/model"
)

// localEnvelope is what actually lands on disk: the encoded snapshot
// plus its metadata, so Load doesn't need a side file.
type localEnvelope struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Checksum   string `json:"checksum"`
	Algorithm  string `json:"algorithm"`
	Compressed bool   `json:"compressed"`
	Data       []byte `json:"data"`
}

// LocalStore persists snapshots as files under a base directory, one
// file per snapshot ID, named "<id>.snapshot".
type LocalStore struct {
	basePath string
}

// NewLocalStore builds a LocalStore rooted at basePath, creating it if
// necessary.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		basePath = "./snapshots"
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, model.NewPersistenceError("persistence.local", "init", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.basePath, id+".snapshot")
}

// Save writes the encoded snapshot to its file, overwriting any
// existing file for the same ID.
func (s *LocalStore) Save(ctx context.Context, enc EncodedSnapshot) error {
	env := localEnvelope{
		ID:         enc.ID,
		SessionID:  enc.SessionID,
		Checksum:   enc.Checksum,
		Algorithm:  enc.Algorithm,
		Compressed: enc.Compressed,
		Data:       enc.Data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return model.NewPersistenceError("persistence.local", "save", err)
	}
	if err := os.WriteFile(s.path(enc.ID), raw, 0644); err != nil {
		return model.NewPersistenceError("persistence.local", "save", err)
	}
	return nil
}

// Load reads and decodes the snapshot file for id.
func (s *LocalStore) Load(ctx context.Context, id string) (EncodedSnapshot, error) {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		return EncodedSnapshot{}, model.NewPersistenceError("persistence.local", "load", err)
	}
	var env localEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return EncodedSnapshot{}, model.NewCorruptSnapshotError("persistence.local", id)
	}
	return EncodedSnapshot{
		ID:         env.ID,
		SessionID:  env.SessionID,
		Checksum:   env.Checksum,
		Algorithm:  env.Algorithm,
		Compressed: env.Compressed,
		Data:       env.Data,
	}, nil
}

// List returns every snapshot ID present, most-recently-named last
// (lexicographic; callers using time-ordered IDs get chronological
// order for free).
func (s *LocalStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, model.NewPersistenceError("persistence.local", "list", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snapshot") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".snapshot"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the snapshot file for id, if present.
func (s *LocalStore) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return model.NewPersistenceError("persistence.local", "delete", err)
	}
	return nil
}
