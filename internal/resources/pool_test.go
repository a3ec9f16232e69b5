package resources

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/engine/internal/model"
)

func TestPool_ReserveAndRelease(t *testing.T) {
	p := NewPool(map[string]int{"cpu": 2})

	require.NoError(t, p.Reserve("t1", []string{"cpu"}))
	require.NoError(t, p.Reserve("t2", []string{"cpu"}))

	err := p.Reserve("t3", []string{"cpu"})
	require.Error(t, err)
	var contention *model.ResourceContentionError
	require.ErrorAs(t, err, &contention)

	p.Release("t1")
	require.NoError(t, p.Reserve("t3", []string{"cpu"}))
}

func TestPool_ReserveAtomicAcrossClasses(t *testing.T) {
	p := NewPool(map[string]int{"cpu": 1, "gpu": 0})

	err := p.Reserve("t1", []string{"cpu", "gpu"})
	require.Error(t, err)

	// cpu reservation must have been rolled back since gpu failed.
	require.NoError(t, p.Reserve("t2", []string{"cpu"}))
}
