package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/engine/internal/model"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	snap := Snapshot{
		ID:        "snap_1",
		SessionID: "s1",
		CreatedAt: time.Now(),
		Tasks: []TaskState{
			{ID: "t1", Name: "a", State: model.StateCompleted},
		},
	}

	enc, err := Encode(snap, "sha256", true)
	require.NoError(t, err)

	decoded, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, snap.ID, decoded.ID)
	require.Len(t, decoded.Tasks, 1)
	require.Equal(t, "t1", decoded.Tasks[0].ID)
}

func TestDecode_CorruptChecksumRejected(t *testing.T) {
	snap := Snapshot{ID: "snap_1", CreatedAt: time.Now()}
	enc, err := Encode(snap, "sha256", false)
	require.NoError(t, err)

	enc.Data[0] ^= 0xFF

	_, err = Decode(enc)
	require.Error(t, err)
	var corrupt *model.CorruptSnapshotError
	require.ErrorAs(t, err, &corrupt)
}

type fakeCollector struct {
	n int
}

func (f *fakeCollector) Collect(reason string) Snapshot {
	f.n++
	return Snapshot{Tasks: []TaskState{{ID: "t1"}}}
}

func TestEngine_SnapshotAndLoadLatest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	e := New(store, &fakeCollector{}, Config{SessionID: "s1", MaxBackups: 10})

	ctx := context.Background()
	require.NoError(t, e.Snapshot(ctx, "test"))

	snap, err := e.LoadLatestValid(ctx)
	require.NoError(t, err)
	require.Equal(t, "s1", snap.SessionID)
}

func TestEngine_RecoverDetectsOrphan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	e := New(store, &fakeCollector{}, Config{SessionID: "session-old", MaxBackups: 10})
	ctx := context.Background()
	require.NoError(t, e.Snapshot(ctx, "test"))

	_, info, err := e.Recover(ctx, "session-new")
	require.NoError(t, err)
	require.True(t, info.Orphaned)

	_, info2, err := e.Recover(ctx, "session-old")
	require.NoError(t, err)
	require.False(t, info2.Orphaned)
}

func TestEngine_PrunesOldestBeyondMaxBackups(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	e := New(store, &fakeCollector{}, Config{SessionID: "s1", MaxBackups: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Snapshot(ctx, "test"))
		time.Sleep(time.Millisecond)
	}

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, len(ids), 2)
}
