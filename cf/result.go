// ResultRecord: the terminal per-instance output of a search, persisted as one
// JSON file per instance ID so interrupted batches keep partial progress and
// can be resumed by skipping already-processed instances.

package cf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FailureReason classifies why an instance's search produced no counterfactual.
type FailureReason string

const (
	// FailureNoCounterfactual: all bisection rounds ran without a flip.
	// A normal terminal outcome, not an error.
	FailureNoCounterfactual FailureReason = "NoCounterfactualFound"
	// FailureEmptyPool: the reference pool has no instances of the target class.
	FailureEmptyPool FailureReason = "EmptyPool"
	// FailureWorker: unexpected error or panic inside the instance's job.
	FailureWorker FailureReason = "WorkerFailure"
)

// ResultRecord is written exactly once when an instance's scheduler loop ends
// and never mutated afterwards.
type ResultRecord struct {
	InstanceID  string `json:"instance_id"`
	RunID       string `json:"run_id,omitempty"`
	TargetClass int    `json:"target_class"`
	AnchorID    string `json:"anchor_id,omitempty"`

	Success      bool    `json:"success"`
	AchievedProb float64 `json:"achieved_prob"`
	TradeOff     float64 `json:"trade_off,omitempty"` // coefficient of the retained round

	// TradeOffSchedule lists the coefficients tested round by round;
	// RoundFlipped records whether each round's optimization flipped the
	// classifier.
	TradeOffSchedule []float64 `json:"trade_off_schedule,omitempty"`
	RoundFlipped     []bool    `json:"round_flipped,omitempty"`

	Rounds     int   `json:"rounds"`
	Iterations int   `json:"iterations"` // optimizer iterations summed across rounds
	DurationMs int64 `json:"duration_ms,omitempty"`

	// PerturbedPixels is the full channel-major pixel array of the
	// counterfactual; present only on success.
	PerturbedPixels []float64 `json:"perturbed_pixels,omitempty"`
	// ChannelShift maps perturbed channel names to their intensity shift.
	ChannelShift map[string]float64 `json:"channel_shift,omitempty"`

	FailureReason FailureReason `json:"failure_reason,omitempty"`
	FailureDetail string        `json:"failure_detail,omitempty"`
}

// FailedRecord builds a failure ResultRecord for the given instance.
func FailedRecord(inst *Instance, targetClass int, reason FailureReason, detail string) ResultRecord {
	return ResultRecord{
		InstanceID:    inst.ID,
		TargetClass:   targetClass,
		FailureReason: reason,
		FailureDetail: detail,
	}
}

func recordPath(dir, instanceID string) string {
	return filepath.Join(dir, instanceID+".json")
}

// WriteResultRecord persists a record to <dir>/<instanceID>.json. The write
// goes to a temp file first and is renamed into place, so a record file is
// either absent or complete; concurrent workers never observe partial JSON.
func WriteResultRecord(dir string, rec *ResultRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.InstanceID, err)
	}
	final := recordPath(dir, rec.InstanceID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record %s: %w", rec.InstanceID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish record %s: %w", rec.InstanceID, err)
	}
	return nil
}

// LoadResultRecord reads a persisted record for one instance ID.
func LoadResultRecord(dir, instanceID string) (*ResultRecord, error) {
	data, err := os.ReadFile(recordPath(dir, instanceID))
	if err != nil {
		return nil, err
	}
	var rec ResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", instanceID, err)
	}
	return &rec, nil
}

// LoadExistingRecords returns the already-persisted records among the given
// instance IDs. Unreadable files are treated as absent (the instance will be
// re-processed) with a warning.
func LoadExistingRecords(dir string, instanceIDs []string) map[string]*ResultRecord {
	existing := make(map[string]*ResultRecord)
	for _, id := range instanceIDs {
		if _, err := os.Stat(recordPath(dir, id)); err != nil {
			continue
		}
		rec, err := LoadResultRecord(dir, id)
		if err != nil {
			logrus.Warnf("ignoring unreadable record for %s: %v", id, err)
			continue
		}
		existing[id] = rec
	}
	return existing
}
