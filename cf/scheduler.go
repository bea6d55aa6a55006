// The constraint scheduler: an outer bounded-bisection loop over the
// trade-off coefficient c. Larger c pushes the optimizer toward flipping the
// classifier; smaller c favors smaller perturbations. The scheduler converges
// toward the smallest c that still flips, and retains that round's candidate.
//
// Update rule: while no round has succeeded, c grows geometrically (x10).
// After the first success the interval [low, high] brackets the boundary and
// c moves to the midpoint. Every successful round tightens high, so the
// sequence of successful coefficients is non-increasing.

package cf

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// TradeOffState is the explicit bisection state for one instance's search.
// Scoped to a single Search call and discarded on completion.
type TradeOffState struct {
	Low         float64 // highest known-failing coefficient
	High        float64 // lowest known-succeeding coefficient (+Inf until a success)
	Current     float64
	BestSuccess float64 // coefficient of the retained successful round
	HasSuccess  bool
}

// advance moves Current to the next coefficient to test.
func (st *TradeOffState) advance() {
	if !st.HasSuccess {
		st.Current *= 10
		return
	}
	st.Current = (st.Low + st.High) / 2
}

// Scheduler runs the outer rounds for single instances. Stateless between
// calls; one Scheduler serves all workers.
type Scheduler struct {
	cfg *Config
	opt *Optimizer
}

// NewScheduler creates a scheduler (and its inner optimizer) bound to the
// engine configuration.
func NewScheduler(cfg *Config) *Scheduler {
	return &Scheduler{cfg: cfg, opt: NewOptimizer(cfg)}
}

// Search runs c_steps rounds for one instance and returns its ResultRecord.
// Exhausting all rounds without a flip is a normal terminal state recorded as
// NoCounterfactualFound; Search never treats it as an error.
func (s *Scheduler) Search(inst *Instance, clf Classifier, anchor *Instance, rng *rand.Rand) ResultRecord {
	cfg := s.cfg
	rec := ResultRecord{
		InstanceID:  inst.ID,
		TargetClass: cfg.TargetClass,
	}
	if anchor != nil {
		rec.AnchorID = anchor.ID
	}

	st := &TradeOffState{Low: 0, High: math.Inf(1), Current: cfg.CInit}
	var best *OptimizeResult

	for round := 0; round < cfg.CSteps; round++ {
		rec.TradeOffSchedule = append(rec.TradeOffSchedule, st.Current)

		res, err := s.opt.Optimize(inst, clf, anchor, st.Current, rng)
		if err != nil {
			// Configuration/classifier problem for this instance only.
			rec.FailureReason = FailureWorker
			rec.FailureDetail = err.Error()
			rec.Rounds = round + 1
			return rec
		}
		rec.Rounds = round + 1
		rec.Iterations += res.Iterations
		rec.RoundFlipped = append(rec.RoundFlipped, res.Success)

		if res.Success {
			if !st.HasSuccess || st.Current <= st.BestSuccess {
				st.BestSuccess = st.Current
				best = res
			}
			st.HasSuccess = true
			st.High = st.Current
			logrus.Debugf("scheduler %s: round %d flipped at c=%.4g (p=%.4f)",
				inst.ID, round, st.Current, res.TargetProb)
		} else {
			st.Low = st.Current
			logrus.Debugf("scheduler %s: round %d failed at c=%.4g", inst.ID, round, st.Current)
		}
		st.advance()
	}

	if best == nil {
		rec.FailureReason = FailureNoCounterfactual
		return rec
	}

	rec.Success = true
	rec.AchievedProb = best.TargetProb
	rec.TradeOff = st.BestSuccess
	rec.PerturbedPixels = best.Pixels
	rec.ChannelShift = best.Candidate.ChannelShift()
	return rec
}
