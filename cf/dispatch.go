// The parallel dispatch layer: fans independent per-instance jobs across a
// bounded worker pool. The classifier and the nearest-neighbor index are the
// only shared state and both are read-only after construction, so jobs share
// them by reference without locks. Each record is persisted the moment its
// job completes; re-running with the same output directory skips instances
// that already have a record.

package cf

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// RunBatch processes the instances and returns one ResultRecord per instance
// in input order, plus the batch summary. Per-instance failures (empty pool,
// optimizer error, panic) become failure records and never abort siblings.
// Returns an error only for batch-level setup problems; a cancelled context
// stops scheduling new jobs and returns the records completed so far.
func RunBatch(ctx context.Context, instances []*Instance, clf Classifier, index *Index, cfg *Config, outputDir string) ([]ResultRecord, *BatchSummary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.TargetClass < 0 || cfg.TargetClass >= clf.NumClasses() {
		return nil, nil, fmt.Errorf("target class %d out of range (classifier has %d classes)",
			cfg.TargetClass, clf.NumClasses())
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output dir: %w", err)
	}

	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	existing := LoadExistingRecords(outputDir, ids)
	if len(existing) > 0 {
		logrus.Infof("resuming: %d of %d instances already have records in %s",
			len(existing), len(instances), outputDir)
	}

	runID := uuid.NewString()
	key := NewSearchKey(cfg.Seed)
	sched := NewScheduler(cfg)
	start := time.Now()
	logrus.Infof("dispatching %d instances across %d workers (run %s, target class %d)",
		len(instances)-len(existing), cfg.NumWorkers, runID, cfg.TargetClass)

	records := make([]ResultRecord, len(instances))
	done := make([]bool, len(instances))

	p := pool.New().WithMaxGoroutines(cfg.NumWorkers)
	for i, inst := range instances {
		if rec, ok := existing[inst.ID]; ok {
			records[i] = *rec
			done[i] = true
			continue
		}
		i, inst := i, inst
		p.Go(func() {
			if ctx.Err() != nil {
				return // leave unprocessed; a resumed run will pick it up
			}
			rec := searchOne(inst, clf, index, sched, cfg, key)
			rec.RunID = runID
			if err := WriteResultRecord(outputDir, &rec); err != nil {
				logrus.Errorf("persist record for %s: %v", inst.ID, err)
			}
			records[i] = rec
			done[i] = true
		})
	}
	p.Wait()

	completed := make([]ResultRecord, 0, len(instances))
	for i := range records {
		if done[i] {
			completed = append(completed, records[i])
		}
	}

	summary := Summarize(runID, completed, len(existing), time.Since(start))
	if err := summary.Write(outputDir); err != nil {
		logrus.Errorf("persist summary: %v", err)
	}
	logrus.Infof("batch complete: %d succeeded, %d failed", summary.Succeeded, summary.Failed)
	return completed, summary, nil
}

// searchOne runs a single instance's job: nearest-neighbor query, then the
// scheduler loop. A panic anywhere inside is captured as a WorkerFailure
// record so sibling jobs keep running.
func searchOne(inst *Instance, clf Classifier, index *Index, sched *Scheduler, cfg *Config, key SearchKey) (rec ResultRecord) {
	jobStart := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("instance %s: job panicked: %v", inst.ID, r)
			rec = FailedRecord(inst, cfg.TargetClass, FailureWorker, fmt.Sprintf("panic: %v", r))
		}
		rec.DurationMs = time.Since(jobStart).Milliseconds()
	}()

	anchor, err := index.Nearest(inst, cfg.TargetClass)
	if err != nil {
		if _, empty := err.(*EmptyPoolError); empty {
			return FailedRecord(inst, cfg.TargetClass, FailureEmptyPool, err.Error())
		}
		return FailedRecord(inst, cfg.TargetClass, FailureWorker, err.Error())
	}

	rng := InstanceRNG(key, inst.ID)
	return sched.Search(inst, clf, anchor, rng)
}
