// Package persistence saves and restores engine state as checksummed,
// optionally compressed JSON snapshots, with pluggable storage backends.
package persistence

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/taskmesh/engine/internal/model"
)

// TaskState is the serializable form of one task's lifecycle state,
// independent of the live model.Task so the snapshot format can evolve
// without coupling to in-memory representations.
type TaskState struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Category          model.Category    `json:"category"`
	BasePriority      model.BasePriority `json:"base_priority"`
	EffectivePriority int               `json:"effective_priority"`
	State             model.State       `json:"state"`
	Attempt           int               `json:"attempt"`
	ResourceClasses   []string          `json:"resource_classes,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	SubmittedAt       time.Time         `json:"submitted_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// EdgeState is the serializable form of one dependency edge.
type EdgeState struct {
	From string              `json:"from"`
	To   string              `json:"to"`
	Type model.DependencyType `json:"type"`
}

// Snapshot is the full point-in-time state the engine can restore from.
type Snapshot struct {
	ID               string      `json:"id"`
	SessionID        string      `json:"session_id"`
	CreatedAt        time.Time   `json:"created_at"`
	Reason           string      `json:"reason"`
	StructureVersion uint64      `json:"structure_version"`
	Tasks            []TaskState `json:"tasks"`
	Edges            []EdgeState `json:"edges"`
}

// EncodedSnapshot is what actually goes to storage: a checksummed,
// optionally gzip-compressed byte blob plus the metadata needed to
// validate and decode it.
type EncodedSnapshot struct {
	ID         string
	SessionID  string
	CreatedAt  time.Time
	Checksum   string // hex-encoded
	Algorithm  string // "sha256" or "md5"
	Compressed bool
	Data       []byte
}

// canonicalJSON marshals v deterministically. encoding/json already
// emits map keys in sorted order and struct fields in declaration order,
// which is sufficient determinism for checksum purposes here.
func canonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func checksum(algorithm string, data []byte) string {
	switch algorithm {
	case "md5":
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// Encode serializes a Snapshot to an EncodedSnapshot, optionally
// gzip-compressing the JSON body and computing its checksum over the
// (possibly compressed) bytes actually stored.
func Encode(snap Snapshot, algorithm string, compress bool) (EncodedSnapshot, error) {
	raw, err := canonicalJSON(snap)
	if err != nil {
		return EncodedSnapshot{}, model.NewPersistenceError("persistence", "encode", err)
	}

	data := raw
	if compress {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(raw); err != nil {
			return EncodedSnapshot{}, model.NewPersistenceError("persistence", "compress", err)
		}
		if err := gw.Close(); err != nil {
			return EncodedSnapshot{}, model.NewPersistenceError("persistence", "compress", err)
		}
		data = buf.Bytes()
	}

	return EncodedSnapshot{
		ID:         snap.ID,
		SessionID:  snap.SessionID,
		CreatedAt:  snap.CreatedAt,
		Checksum:   checksum(algorithm, data),
		Algorithm:  algorithm,
		Compressed: compress,
		Data:       data,
	}, nil
}

// Decode validates an EncodedSnapshot's checksum and reconstructs the
// original Snapshot. Returns CorruptSnapshotError if the checksum does
// not match.
func Decode(enc EncodedSnapshot) (Snapshot, error) {
	actual := checksum(enc.Algorithm, enc.Data)
	if actual != enc.Checksum {
		return Snapshot{}, model.NewCorruptSnapshotError("persistence", enc.ID)
	}

	raw := enc.Data
	if enc.Compressed {
		gr, err := gzip.NewReader(bytes.NewReader(enc.Data))
		if err != nil {
			return Snapshot{}, model.NewCorruptSnapshotError("persistence", enc.ID)
		}
		defer gr.Close()
		decompressed, err := io.ReadAll(gr)
		if err != nil {
			return Snapshot{}, model.NewCorruptSnapshotError("persistence", enc.ID)
		}
		raw = decompressed
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, model.NewCorruptSnapshotError("persistence", enc.ID)
	}
	return snap, nil
}

// Store is the persistence backend contract. Implementations: Local
// (filesystem) and an optional Redis-backed store for multi-instance
// deployments.
type Store interface {
	Save(ctx context.Context, enc EncodedSnapshot) error
	Load(ctx context.Context, id string) (EncodedSnapshot, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}
