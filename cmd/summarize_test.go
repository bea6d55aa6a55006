package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellflip/cellflip/cf"
)

func TestCollectRecords_SkipsSummaryAndTempFiles(t *testing.T) {
	// GIVEN a results directory with two records, a summary and a temp file
	dir := t.TempDir()
	for _, rec := range []cf.ResultRecord{
		{InstanceID: "q-01", Success: true, AchievedProb: 0.9},
		{InstanceID: "q-02", FailureReason: cf.FailureNoCounterfactual},
	} {
		require.NoError(t, cf.WriteResultRecord(dir, &rec))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte(`{"run_id":"x"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q-03.json.tmp"), []byte("{"), 0o644))

	// WHEN collecting
	records, err := collectRecords(dir)
	require.NoError(t, err)

	// THEN only the per-instance records are returned
	require.Len(t, records, 2)
	summary := cf.Summarize("", records, 0, 0)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.FailureReasons[cf.FailureNoCounterfactual])
}
