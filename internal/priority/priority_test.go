package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/engine/internal/model"
)

func TestComputer_CachesUntilStructureChanges(t *testing.T) {
	c := NewComputer(nil)

	calls := 0
	c.algorithm = AlgorithmFunc(func(pf model.PriorityFactors) int {
		calls++
		return 42
	})

	ctx := AdjustmentContext{TaskID: "t1", StructureVersion: 1, Factors: model.PriorityFactors{Base: model.PriorityNormal}}

	require.Equal(t, 42, c.Score(ctx))
	require.Equal(t, 42, c.Score(ctx))
	require.Equal(t, 1, calls)

	ctx.StructureVersion = 2
	c.Score(ctx)
	require.Equal(t, 2, calls)
}

func TestDefaultAlgorithm_ClampsToRange(t *testing.T) {
	high := DefaultAlgorithm.Score(model.PriorityFactors{
		Base:             model.PriorityCritical,
		AgeSeconds:       7200,
		DeadlinePressure: 1,
		DependencyWeight: 1,
		StarvationBoost:  5000,
	})
	require.LessOrEqual(t, high, 2000)

	low := DefaultAlgorithm.Score(model.PriorityFactors{Base: 0})
	require.GreaterOrEqual(t, low, 1)
}

func TestDeadlinePressure(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	require.Equal(t, 1.0, DeadlinePressure(&past, now, time.Hour))

	none := DeadlinePressure(nil, now, time.Hour)
	require.Equal(t, 0.0, none)

	far := now.Add(2 * time.Hour)
	require.Equal(t, 0.0, DeadlinePressure(&far, now, time.Hour))
}

func TestStarvationBoost(t *testing.T) {
	require.Equal(t, 0, StarvationBoost(30*time.Second, time.Minute, 5))
	require.Equal(t, 5, StarvationBoost(90*time.Second, time.Minute, 5))
	require.Equal(t, 10, StarvationBoost(150*time.Second, time.Minute, 5))
}
