package cf

import (
	"math"
	"testing"
)

func TestTradeOffState_GrowsGeometricallyBeforeFirstSuccess(t *testing.T) {
	// GIVEN a state with no success observed
	st := &TradeOffState{Low: 0, High: math.Inf(1), Current: 1.0}

	// WHEN failing rounds advance the state
	st.Low = st.Current
	st.advance()
	if st.Current != 10.0 {
		t.Errorf("after first failure: got %v, want 10", st.Current)
	}
	st.Low = st.Current
	st.advance()
	if st.Current != 100.0 {
		t.Errorf("after second failure: got %v, want 100", st.Current)
	}
}

func TestTradeOffState_BisectsAfterFirstSuccess(t *testing.T) {
	// GIVEN a success at c=10 with a prior failure at c=1
	st := &TradeOffState{Low: 1, High: math.Inf(1), Current: 10}
	st.HasSuccess = true
	st.High = st.Current

	// WHEN advancing
	st.advance()

	// THEN the next coefficient is the bracket midpoint
	if st.Current != 5.5 {
		t.Errorf("midpoint: got %v, want 5.5", st.Current)
	}
}

func TestScheduler_SuccessfulCoefficientsNeverIncrease(t *testing.T) {
	// GIVEN a flippable instance and several bisection rounds
	cfg := testConfig()
	cfg.CSteps = 4
	clf := tcellClassifier(t)
	inst := testInstance("q", 0, tcellChannels, 0.1, 0.1, 0.5)
	anchor := testInstance("anchor", 1, tcellChannels, 0.8, 0.7, 0.5)
	rng := InstanceRNG(NewSearchKey(cfg.Seed), inst.ID)

	// WHEN searching
	rec := NewScheduler(cfg).Search(inst, clf, anchor, rng)

	// THEN the search succeeds and the schedule starts at c_init
	if !rec.Success {
		t.Fatalf("Search failed: %v %v", rec.FailureReason, rec.FailureDetail)
	}
	if len(rec.TradeOffSchedule) != cfg.CSteps {
		t.Fatalf("schedule length: got %d, want %d", len(rec.TradeOffSchedule), cfg.CSteps)
	}
	if rec.TradeOffSchedule[0] != cfg.CInit {
		t.Errorf("first coefficient: got %v, want %v", rec.TradeOffSchedule[0], cfg.CInit)
	}

	// THEN successful coefficients never increase across rounds (bracketing),
	// and the retained coefficient is the smallest successful one
	lastSuccess := math.Inf(1)
	for i, c := range rec.TradeOffSchedule {
		if !rec.RoundFlipped[i] {
			continue
		}
		if c > lastSuccess {
			t.Errorf("successful coefficient rose at round %d: %v (schedule %v, flipped %v)",
				i, c, rec.TradeOffSchedule, rec.RoundFlipped)
		}
		lastSuccess = c
	}
	if rec.TradeOff != lastSuccess {
		t.Errorf("retained coefficient: got %v, want %v", rec.TradeOff, lastSuccess)
	}
	if rec.TradeOff > cfg.CInit {
		t.Errorf("retained coefficient %v exceeds c_init %v", rec.TradeOff, cfg.CInit)
	}
}

func TestScheduler_NoCounterfactualFound(t *testing.T) {
	// GIVEN a classifier that never flips regardless of input
	cfg := testConfig()
	clf := &stubClassifier{classes: 2, fn: func([]float64) ([]float64, error) {
		return []float64{0.9, 0.1}, nil
	}}
	inst := testInstance("q", 0, tcellChannels, 0.1, 0.1, 0.5)
	rng := InstanceRNG(NewSearchKey(cfg.Seed), inst.ID)

	// WHEN searching
	rec := NewScheduler(cfg).Search(inst, clf, nil, rng)

	// THEN failure is a normal terminal record, not a panic or error
	if rec.Success {
		t.Fatalf("Search succeeded against a constant classifier")
	}
	if rec.FailureReason != FailureNoCounterfactual {
		t.Errorf("FailureReason: got %q, want %q", rec.FailureReason, FailureNoCounterfactual)
	}
	if rec.Rounds != cfg.CSteps {
		t.Errorf("Rounds: got %d, want %d (all rounds exhausted)", rec.Rounds, cfg.CSteps)
	}

	// THEN the coefficient grew geometrically the whole way
	for i := 1; i < len(rec.TradeOffSchedule); i++ {
		if rec.TradeOffSchedule[i] != rec.TradeOffSchedule[i-1]*10 {
			t.Errorf("expected x10 growth at round %d: %v", i, rec.TradeOffSchedule)
		}
	}
}

func TestScheduler_MissingChannelBecomesWorkerFailure(t *testing.T) {
	// GIVEN a config naming a channel the instance lacks
	cfg := testConfig()
	cfg.ChannelToPerturb = []string{"CD20"}
	clf := tcellClassifier(t)
	inst := testInstance("q", 0, tcellChannels, 0.1, 0.1, 0.5)

	// WHEN searching
	rec := NewScheduler(cfg).Search(inst, clf, nil, nil)

	// THEN the instance fails in isolation with a WorkerFailure record
	if rec.Success {
		t.Fatalf("Search succeeded with a missing channel")
	}
	if rec.FailureReason != FailureWorker {
		t.Errorf("FailureReason: got %q, want %q", rec.FailureReason, FailureWorker)
	}
	if rec.FailureDetail == "" {
		t.Errorf("FailureDetail empty, want the underlying error text")
	}
}
