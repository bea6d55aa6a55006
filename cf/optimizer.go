// The perturbation optimizer: for one instance and one trade-off coefficient,
// run a projected proximal-gradient search over per-channel intensity shifts.
//
// Objective per iteration:
//
//	loss = tradeOff * attack + beta * L1(delta) + L2(delta) + theta * proto
//
// where attack is a hinge on the target-class margin (zero once the classifier
// is flipped by at least kappa), and proto pulls the candidate's channel means
// toward the nearest-neighbor anchor. The classifier is opaque, so the attack
// gradient is estimated by central finite differences; the penalty gradients
// are analytic. The L1 term is applied as a shrinkage-thresholding step.

package cf

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// initJitterScale bounds the random symmetric initialization of each shift.
// Breaks exact gradient ties between identically-distributed channels while
// keeping the start point effectively at the original instance.
const initJitterScale = 1e-3

// OptimizeResult is the outcome of a single optimizer invocation.
type OptimizeResult struct {
	Candidate  *CounterfactualCandidate
	Pixels     []float64 // materialized candidate pixels
	TargetProb float64   // classifier probability of the target class at Pixels
	Iterations int
	Success    bool // margin satisfied: p(target) >= max(p(other)) + kappa
}

// Optimizer runs the inner perturbation search. Stateless between calls;
// one Optimizer may serve concurrent jobs.
type Optimizer struct {
	cfg *Config
}

// NewOptimizer creates an optimizer bound to the engine configuration.
func NewOptimizer(cfg *Config) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// Optimize searches for a perturbation of inst that flips clf toward the
// configured target class under the given trade-off coefficient. anchor may
// be nil, in which case the prototype term is dropped. Deterministic for a
// fixed rng state and configuration.
func (o *Optimizer) Optimize(inst *Instance, clf Classifier, anchor *Instance, tradeOff float64, rng *rand.Rand) (*OptimizeResult, error) {
	cfg := o.cfg
	if cfg.TargetClass < 0 || cfg.TargetClass >= clf.NumClasses() {
		return nil, fmt.Errorf("target class %d out of range (classifier has %d classes)",
			cfg.TargetClass, clf.NumClasses())
	}
	cand, err := NewCandidate(inst, cfg.ChannelToPerturb)
	if err != nil {
		return nil, err
	}

	k := len(cand.PerturbChannels)

	// Feasible shift range per channel: every pixel of the channel must stay
	// inside [ClipMin, ClipMax]. Zero is always kept feasible so the search
	// can start at the original instance.
	lo := make([]float64, k)
	hi := make([]float64, k)
	origMean := make([]float64, k)
	for i, ch := range cand.PerturbChannels {
		chMin, chMax, chMean := planeStats(inst.ChannelPlane(ch))
		lo[i] = math.Min(cfg.ClipMin-chMin, 0)
		hi[i] = math.Max(cfg.ClipMax-chMax, 0)
		origMean[i] = chMean
	}

	var anchorMean []float64
	if anchor != nil && cfg.Theta > 0 {
		anchorMean = make([]float64, k)
		for i, ch := range cand.PerturbChannels {
			name := inst.Channels[ch]
			ach := anchor.ChannelIndex(name)
			if ach < 0 {
				return nil, fmt.Errorf("anchor %s lacks channel %q", anchor.ID, name)
			}
			_, _, anchorMean[i] = planeStats(anchor.ChannelPlane(ach))
		}
	}

	if rng != nil {
		for i := range cand.Delta {
			cand.Delta[i] = clamp((rng.Float64()*2-1)*initJitterScale, lo[i], hi[i])
		}
	}

	// Reusable pixel buffer for classifier probes.
	buf := make([]float64, len(inst.Pixels))
	evalAttack := func(delta []float64) (float64, float64, error) {
		materializeInto(buf, inst, cand.PerturbChannels, delta)
		probs, err := clf.Predict(buf)
		if err != nil {
			return 0, 0, err
		}
		return attackLoss(probs, cfg.TargetClass, cfg.Kappa), probs[cfg.TargetClass], nil
	}

	// Finite-difference step: a small fraction of the valid intensity range.
	h := 1e-3 * (cfg.ClipMax - cfg.ClipMin)

	grad := make([]float64, k)
	probe := make([]float64, k)

	var (
		bestSuccess     []float64
		bestSuccessProb float64
		bestPenalty     = math.Inf(1)
		bestTotal       = math.Inf(1)
		stall           int
		lastProb        float64
		anySuccess      bool
		iters           int
	)

	for t := 0; t < cfg.MaxIterations; t++ {
		iters = t + 1
		lr := cfg.LearningRateInit * math.Sqrt(1-float64(t)/float64(cfg.MaxIterations))

		// Attack gradient by central differences, one probe pair per channel.
		for i := 0; i < k; i++ {
			copy(probe, cand.Delta)
			probe[i] = cand.Delta[i] + h
			up, _, err := evalAttack(probe)
			if err != nil {
				return nil, err
			}
			probe[i] = cand.Delta[i] - h
			down, _, err := evalAttack(probe)
			if err != nil {
				return nil, err
			}
			grad[i] = tradeOff * (up - down) / (2 * h)
		}

		// Analytic penalty gradients and the proximal update.
		for i := 0; i < k; i++ {
			g := grad[i] + 2*cand.Delta[i]
			if anchorMean != nil {
				g += 2 * cfg.Theta * (origMean[i] + cand.Delta[i] - anchorMean[i])
			}
			z := cand.Delta[i] - lr*g
			cand.Delta[i] = clamp(shrink(z, lr*cfg.Beta), lo[i], hi[i])
		}

		attack, prob, err := evalAttack(cand.Delta)
		if err != nil {
			return nil, err
		}
		lastProb = prob

		l1, l2 := norms(cand.Delta)
		total := tradeOff*attack + cfg.Beta*l1 + l2
		if anchorMean != nil {
			total += cfg.Theta * protoLoss(cand.Delta, origMean, anchorMean)
		}

		if attack == 0 {
			anySuccess = true
			if penalty := cfg.Beta*l1 + l2; penalty < bestPenalty {
				bestPenalty = penalty
				bestSuccess = append(bestSuccess[:0], cand.Delta...)
				bestSuccessProb = prob
			}
		}

		if total < bestTotal-1e-12 {
			bestTotal = total
			stall = 0
		} else {
			stall++
		}
		if anySuccess && cfg.Patience > 0 && stall >= cfg.Patience {
			logrus.Debugf("optimizer %s: early stop at iter %d (stalled %d, c=%.4g)",
				inst.ID, iters, stall, tradeOff)
			break
		}
	}

	res := &OptimizeResult{Candidate: cand, Iterations: iters}
	if bestSuccess != nil {
		copy(cand.Delta, bestSuccess)
		res.Success = true
		res.TargetProb = bestSuccessProb
	} else {
		res.TargetProb = lastProb
	}
	res.Pixels = cand.Materialize()
	return res, nil
}

// attackLoss is the hinge on the classification margin: zero once the target
// class beats every other class by at least kappa.
func attackLoss(probs []float64, target int, kappa float64) float64 {
	pt := probs[target]
	pOther := math.Inf(-1)
	for j, p := range probs {
		if j != target && p > pOther {
			pOther = p
		}
	}
	return math.Max(pOther-pt+kappa, 0)
}

func protoLoss(delta, origMean, anchorMean []float64) float64 {
	sum := 0.0
	for i := range delta {
		d := origMean[i] + delta[i] - anchorMean[i]
		sum += d * d
	}
	return sum
}

func norms(delta []float64) (l1, l2 float64) {
	for _, d := range delta {
		l1 += math.Abs(d)
		l2 += d * d
	}
	return l1, l2
}

// shrink is the soft-thresholding operator for the L1 term.
func shrink(z, thr float64) float64 {
	switch {
	case z > thr:
		return z - thr
	case z < -thr:
		return z + thr
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// materializeInto writes orig pixels plus per-channel shifts into dst.
func materializeInto(dst []float64, in *Instance, channels []int, delta []float64) {
	copy(dst, in.Pixels)
	n := in.PlaneSize()
	for i, ch := range channels {
		if delta[i] == 0 {
			continue
		}
		plane := dst[ch*n : (ch+1)*n]
		for j := range plane {
			plane[j] += delta[i]
		}
	}
}

func planeStats(plane []float64) (min, max, mean float64) {
	min, max = math.Inf(1), math.Inf(-1)
	sum := 0.0
	for _, v := range plane {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return min, max, sum / float64(len(plane))
}
