package scheduler

import (
	"fmt"
	"math"
	"sort"
)

// FIFOPolicy dispatches candidates in submission order, ignoring
// priority entirely. Useful as a baseline and for deterministic tests.
type FIFOPolicy struct{}

func (FIFOPolicy) Name() string { return "fifo" }

func (FIFOPolicy) Select(candidates []Candidate, capacity int) Decision {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Task.SubmittedAt.Before(ranked[j].Task.SubmittedAt)
	})
	selected := truncate(ranked, capacity)
	return Decision{
		Policy:    "fifo",
		Selected:  selected,
		Reasoning: "dispatched oldest-submitted candidates first, ignoring priority",
		Outcome:   outcomeFor(selected, len(candidates), capacity),
	}
}

// PriorityPolicy dispatches the highest effective-priority candidates
// first, breaking ties by submission order.
type PriorityPolicy struct{}

func (PriorityPolicy) Name() string { return "priority" }

func (PriorityPolicy) Select(candidates []Candidate, capacity int) Decision {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].EffectivePriority != ranked[j].EffectivePriority {
			return ranked[i].EffectivePriority > ranked[j].EffectivePriority
		}
		return ranked[i].Task.SubmittedAt.Before(ranked[j].Task.SubmittedAt)
	})
	selected := truncate(ranked, capacity)
	return Decision{
		Policy:    "priority",
		Selected:  selected,
		Reasoning: "dispatched highest effective-priority candidates first",
		Outcome:   outcomeFor(selected, len(candidates), capacity),
	}
}

// SJFPolicy (shortest job first) dispatches the candidates with the
// smallest estimated duration first, minimizing average wait time.
type SJFPolicy struct{}

func (SJFPolicy) Name() string { return "sjf" }

func (SJFPolicy) Select(candidates []Candidate, capacity int) Decision {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].EstimatedDuration < ranked[j].EstimatedDuration
	})
	selected := truncate(ranked, capacity)
	return Decision{
		Policy:    "sjf",
		Selected:  selected,
		Reasoning: "dispatched shortest estimated-duration candidates first",
		Outcome:   outcomeFor(selected, len(candidates), capacity),
	}
}

// DeadlineMonotonicPolicy dispatches the candidate with the nearest
// deadline first; candidates without a deadline sort after all that
// have one.
type DeadlineMonotonicPolicy struct{}

func (DeadlineMonotonicPolicy) Name() string { return "deadline-monotonic" }

func (DeadlineMonotonicPolicy) Select(candidates []Candidate, capacity int) Decision {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := ranked[i].Task.Deadline, ranked[j].Task.Deadline
		switch {
		case di == nil && dj == nil:
			return false
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
	selected := truncate(ranked, capacity)
	return Decision{
		Policy:    "deadline-monotonic",
		Selected:  selected,
		Reasoning: "dispatched nearest-deadline candidates first",
		Outcome:   outcomeFor(selected, len(candidates), capacity),
	}
}

// DependencyAwarePolicy favors candidates that unblock the most
// dependents, maximizing downstream parallelism per dispatch slot.
type DependencyAwarePolicy struct{}

func (DependencyAwarePolicy) Name() string { return "dependency-aware" }

func (DependencyAwarePolicy) Select(candidates []Candidate, capacity int) Decision {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].DependentCount != ranked[j].DependentCount {
			return ranked[i].DependentCount > ranked[j].DependentCount
		}
		return ranked[i].EffectivePriority > ranked[j].EffectivePriority
	})
	selected := truncate(ranked, capacity)
	return Decision{
		Policy:    "dependency-aware",
		Selected:  selected,
		Reasoning: "dispatched candidates unblocking the most dependents first",
		Outcome:   outcomeFor(selected, len(candidates), capacity),
	}
}

// ResourceOptimalPolicy prefers candidates requesting fewer distinct
// resource classes, packing more concurrent work into limited capacity.
// Tie-break by effective priority.
type ResourceOptimalPolicy struct {
	ResourceClassCount func(taskID string) int
}

func (p ResourceOptimalPolicy) Name() string { return "resource-optimal" }

func (p ResourceOptimalPolicy) Select(candidates []Candidate, capacity int) Decision {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	count := func(c Candidate) int {
		if p.ResourceClassCount == nil {
			return 0
		}
		return p.ResourceClassCount(c.Task.ID)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := count(ranked[i]), count(ranked[j])
		if ci != cj {
			return ci < cj
		}
		return ranked[i].EffectivePriority > ranked[j].EffectivePriority
	})
	selected := truncate(ranked, capacity)
	return Decision{
		Policy:    "resource-optimal",
		Selected:  selected,
		Reasoning: "dispatched candidates requesting the fewest distinct resource classes first",
		Outcome:   outcomeFor(selected, len(candidates), capacity),
	}
}

// HybridAdaptivePolicy runs a subset of the other policies against the
// same candidate pool and keeps whichever one's forecast outcome scores
// best, rather than committing to one fixed ranking rule. It is the
// default policy: a reasonable balance with no single pathological
// worst case.
type HybridAdaptivePolicy struct{}

func (HybridAdaptivePolicy) Name() string { return "hybrid-adaptive" }

// hybridSubPolicies is the fixed subset of candidate policies
// hybrid-adaptive chooses among each tick.
func hybridSubPolicies() []Policy {
	return []Policy{
		PriorityPolicy{},
		SJFPolicy{},
		DeadlineMonotonicPolicy{},
		DependencyAwarePolicy{},
	}
}

// riskPenalty maps a RiskLevel to the penalty term in the composite
// score; coarse buckets rather than a continuous function since the
// spec names discrete low/medium/high risk assessments.
func riskPenalty(r RiskLevel) float64 {
	switch r {
	case RiskHigh:
		return 50
	case RiskMedium:
		return 20
	default:
		return 0
	}
}

// confidence measures how close an outcome's parallelism sits to fully
// using the available capacity (1.0 at exactly full, falling off on
// either side): an outcome that leaves capacity idle or overcommits it
// is less certain to land the way it forecasts.
func confidence(o ExpectedOutcome) float64 {
	c := 1 - math.Abs(1-o.ParallelismFactor)
	if c < 0 {
		return 0
	}
	return c
}

// compositeScore implements the hybrid-adaptive formula: weight
// resource utilization and parallelism up, duration and risk down, and
// reward confidence in the forecast.
func compositeScore(o ExpectedOutcome) float64 {
	return o.ResourceUtilization*100 +
		o.ParallelismFactor*50 -
		float64(o.TotalDuration.Milliseconds())*0.0001 -
		riskPenalty(o.RiskAssessment) +
		confidence(o)*30
}

func (HybridAdaptivePolicy) Select(candidates []Candidate, capacity int) Decision {
	subPolicies := hybridSubPolicies()

	var best Decision
	var winner string
	bestScore := math.Inf(-1)

	for _, p := range subPolicies {
		d := p.Select(candidates, capacity)
		score := compositeScore(d.Outcome)
		if score > bestScore {
			bestScore = score
			best = d
			winner = p.Name()
		}
	}

	best.Policy = "hybrid-adaptive"
	if len(best.Selected) == 0 {
		best.Reasoning = fmt.Sprintf("no sub-policy selected any candidate (composite score %.2f)", bestScore)
	} else {
		best.Reasoning = fmt.Sprintf("chose %s's plan (composite score %.2f) among %d sub-policies",
			winner, bestScore, len(subPolicies))
	}
	return best
}
