// Aggregates batch-level statistics over ResultRecords for end-of-run
// reporting, mirroring what operators need to judge a run: how many patches
// flipped, why the rest failed, and how hard the optimizer had to work.

package cf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BatchSummary aggregates one batch run. Written as summary.json next to the
// per-instance records.
type BatchSummary struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Resumed   int    `json:"resumed"` // records loaded from a previous run

	FailureReasons map[FailureReason]int `json:"failure_reasons,omitempty"`

	// Statistics over successful records.
	MeanAchievedProb float64 `json:"mean_achieved_prob,omitempty"`
	MinAchievedProb  float64 `json:"min_achieved_prob,omitempty"`
	MaxAchievedProb  float64 `json:"max_achieved_prob,omitempty"`
	MeanIterations   float64 `json:"mean_iterations,omitempty"`

	ElapsedMs int64 `json:"elapsed_ms"`
}

// Summarize computes the batch summary from the collected records.
func Summarize(runID string, records []ResultRecord, resumed int, elapsed time.Duration) *BatchSummary {
	s := &BatchSummary{
		RunID:          runID,
		Total:          len(records),
		Resumed:        resumed,
		FailureReasons: make(map[FailureReason]int),
		ElapsedMs:      elapsed.Milliseconds(),
	}
	var probs, iters []float64
	for _, rec := range records {
		if rec.Success {
			s.Succeeded++
			probs = append(probs, rec.AchievedProb)
		} else {
			s.Failed++
			s.FailureReasons[rec.FailureReason]++
		}
		iters = append(iters, float64(rec.Iterations))
	}
	if len(probs) > 0 {
		s.MeanAchievedProb = stat.Mean(probs, nil)
		s.MinAchievedProb = floats.Min(probs)
		s.MaxAchievedProb = floats.Max(probs)
	}
	if len(iters) > 0 {
		s.MeanIterations = stat.Mean(iters, nil)
	}
	return s
}

// Print displays the summary at the end of the batch.
func (s *BatchSummary) Print() {
	fmt.Println("=== Counterfactual Batch Summary ===")
	fmt.Printf("Run ID               : %s\n", s.RunID)
	fmt.Printf("Instances            : %d (%d resumed)\n", s.Total, s.Resumed)
	fmt.Printf("Succeeded            : %d\n", s.Succeeded)
	fmt.Printf("Failed               : %d\n", s.Failed)
	for reason, n := range s.FailureReasons {
		fmt.Printf("  %-18s : %d\n", reason, n)
	}
	if s.Succeeded > 0 {
		fmt.Printf("Achieved probability : mean %.4f, min %.4f, max %.4f\n",
			s.MeanAchievedProb, s.MinAchievedProb, s.MaxAchievedProb)
	}
	if s.Total > 0 {
		fmt.Printf("Mean iterations      : %.1f\n", s.MeanIterations)
	}
	fmt.Printf("Elapsed              : %dms\n", s.ElapsedMs)
}

// Write persists the summary as summary.json in the output directory.
func (s *BatchSummary) Write(dir string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(dir, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
