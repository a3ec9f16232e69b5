// Package priority computes and caches a task's effective scheduling
// score from its base priority, age, deadline pressure, and dependency
// weight.
package priority

import (
	"math"
	"sync"
	"time"

	"github.com/taskmesh/engine/internal/model"
)

const (
	minScore = 1
	maxScore = 2000
)

// Algorithm computes an effective priority score from a set of factors.
// The engine ships DefaultAlgorithm but callers can plug in their own
// (e.g. a tenant-specific weighting scheme) without touching the cache.
type Algorithm interface {
	Score(model.PriorityFactors) int
}

// AlgorithmFunc adapts a plain function to Algorithm.
type AlgorithmFunc func(model.PriorityFactors) int

func (f AlgorithmFunc) Score(pf model.PriorityFactors) int { return f(pf) }

// DefaultAlgorithm is a weighted multiplicative blend of the base
// priority, task age, deadline pressure, and dependency weight, clamped
// to [minScore, maxScore] and boosted additively for starvation.
var DefaultAlgorithm Algorithm = AlgorithmFunc(func(pf model.PriorityFactors) int {
	base := float64(pf.Base)

	ageFactor := 1.0 + math.Min(pf.AgeSeconds/3600.0, 1.0)*0.5 // up to +50% after an hour
	deadlineFactor := 1.0 + pf.DeadlinePressure*1.5            // up to +150% at the deadline
	dependencyFactor := 1.0 + math.Min(pf.DependencyWeight, 1.0)*0.3

	score := base * ageFactor * deadlineFactor * dependencyFactor
	score += float64(pf.StarvationBoost)

	return clamp(int(score))
})

func clamp(v int) int {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

type cacheKey struct {
	taskID           string
	structureVersion uint64
}

// AdjustmentContext carries the inputs needed to compute a fresh score
// for one task at recompute time.
type AdjustmentContext struct {
	TaskID           string
	StructureVersion uint64
	Factors          model.PriorityFactors
}

// Computer evaluates and caches effective priority scores, invalidating
// automatically whenever the dependency graph's structure version moves
// past the value a cached entry was computed under.
type Computer struct {
	mu        sync.Mutex
	algorithm Algorithm
	cache     map[string]cachedScore
}

type cachedScore struct {
	key   cacheKey
	score int
}

// NewComputer builds a Computer using algo, or DefaultAlgorithm if nil.
func NewComputer(algo Algorithm) *Computer {
	if algo == nil {
		algo = DefaultAlgorithm
	}
	return &Computer{
		algorithm: algo,
		cache:     make(map[string]cachedScore),
	}
}

// Score returns the effective priority for a task, recomputing only if
// the cached entry is stale relative to ctx.StructureVersion.
func (c *Computer) Score(ctx AdjustmentContext) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[ctx.TaskID]; ok && cached.key.structureVersion == ctx.StructureVersion {
		return cached.score
	}

	score := c.algorithm.Score(ctx.Factors)
	c.cache[ctx.TaskID] = cachedScore{
		key:   cacheKey{taskID: ctx.TaskID, structureVersion: ctx.StructureVersion},
		score: score,
	}
	return score
}

// Recompute always evaluates the algorithm fresh and refreshes the
// cache, bypassing the structure-version cache hit check Score uses.
// Age, deadline pressure, and starvation all drift with elapsed time
// rather than graph structure, so the periodic aging/starvation
// recompute must call this instead of Score -- otherwise, between
// structural changes, Score keeps returning the same stale cached
// value for the unchanged structureVersion and the recompute is a
// no-op.
func (c *Computer) Recompute(ctx AdjustmentContext) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	score := c.algorithm.Score(ctx.Factors)
	c.cache[ctx.TaskID] = cachedScore{
		key:   cacheKey{taskID: ctx.TaskID, structureVersion: ctx.StructureVersion},
		score: score,
	}
	return score
}

// Invalidate drops a cached score, forcing recomputation on next Score.
func (c *Computer) Invalidate(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, taskID)
}

// Forget removes all cached scores, e.g. after a bulk graph restructure.
func (c *Computer) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cachedScore)
}

// DeadlinePressure maps a deadline and the current time to a 0..1
// pressure value: 0 while far from the deadline, rising to 1 at or past
// it. window bounds how far in advance pressure starts building.
func DeadlinePressure(deadline *time.Time, now time.Time, window time.Duration) float64 {
	if deadline == nil {
		return 0
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 1
	}
	if remaining >= window {
		return 0
	}
	return 1 - float64(remaining)/float64(window)
}

// StarvationBoost returns an additive boost once a task has waited past
// threshold, growing by boostPerTick for every additional threshold
// interval it continues to wait.
func StarvationBoost(waitTime, threshold time.Duration, boostPerTick int) int {
	if waitTime < threshold || threshold <= 0 {
		return 0
	}
	ticks := int(waitTime / threshold)
	return ticks * boostPerTick
}
