// Package scheduler turns the set of currently-eligible tasks into an
// ordered dispatch decision. Policies are small, pluggable handlers
// rather than a class hierarchy, following the orchestrator's own
// handler-interface style for pluggable behavior.
package scheduler

import (
	"time"

	"github.com/taskmesh/engine/internal/model"
)

// Candidate is the scheduler's view of one eligible task at decision
// time: enough information for a Policy to rank it without reaching
// back into the graph or priority cache.
type Candidate struct {
	Task              *model.Task
	EffectivePriority int
	EstimatedDuration time.Duration
	WaitTime          time.Duration
	DependentCount    int
}

// RiskLevel buckets a scheduling decision's forecasted risk, coarse
// enough to drive alerting thresholds without overfitting to a number.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ExpectedOutcome is a policy's forecast for the candidates it selected:
// how long the batch should take, how heavily it uses resource classes
// and concurrency capacity, and how risky the call is judged to be.
// Every policy populates the same shape so HybridAdaptivePolicy can
// compare outcomes from different policies on equal footing.
type ExpectedOutcome struct {
	TotalDuration       time.Duration
	ResourceUtilization float64
	ParallelismFactor   float64
	RiskAssessment      RiskLevel
}

// Decision is the outcome of a scheduling pass: the candidates chosen to
// dispatch this tick, in dispatch order; the policy name and reasoning
// behind the call; and the forecast outcome, useful for logging and the
// hybrid-adaptive policy's own bookkeeping.
type Decision struct {
	Policy    string
	Selected  []Candidate
	Reasoning string
	Outcome   ExpectedOutcome
}

// Policy ranks eligible candidates and selects up to capacity of them to
// dispatch. Implementations must be side-effect free: given the same
// candidates and capacity they should return the same order.
type Policy interface {
	Name() string
	Select(candidates []Candidate, capacity int) Decision
}

func truncate(ranked []Candidate, capacity int) []Candidate {
	if capacity <= 0 || capacity >= len(ranked) {
		return ranked
	}
	return ranked[:capacity]
}

// outcomeFor derives an ExpectedOutcome from a policy's selected batch.
// totalCandidates is the full eligible pool size (selected + deferred),
// used to gauge contention risk.
func outcomeFor(selected []Candidate, totalCandidates, capacity int) ExpectedOutcome {
	var totalDuration time.Duration
	var resourceClasses int
	for _, c := range selected {
		totalDuration += c.EstimatedDuration
		resourceClasses += len(c.Task.ResourceClasses)
	}

	parallelism := 0.0
	resourceUtil := 0.0
	if capacity > 0 {
		parallelism = float64(len(selected)) / float64(capacity)
		resourceUtil = float64(resourceClasses) / float64(capacity)
		if resourceUtil > 1 {
			resourceUtil = 1
		}
	}

	risk := RiskLow
	switch {
	case totalCandidates > capacity*3:
		risk = RiskHigh
	case totalCandidates > capacity:
		risk = RiskMedium
	}

	return ExpectedOutcome{
		TotalDuration:       totalDuration,
		ResourceUtilization: resourceUtil,
		ParallelismFactor:   parallelism,
		RiskAssessment:      risk,
	}
}
