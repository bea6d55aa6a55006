package cmd

import (
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cellflip/cellflip/cf"
)

var summarizeDir string

// summarizeCmd recomputes and prints the batch summary from the per-instance
// records in an output directory. Useful after a resumed or interrupted run.
var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize persisted counterfactual records",
	Run: func(cmd *cobra.Command, args []string) {
		records, err := collectRecords(summarizeDir)
		if err != nil {
			logrus.Fatalf("Failed to read records: %v", err)
		}
		if len(records) == 0 {
			logrus.Fatalf("No records found in %s", summarizeDir)
		}
		summary := cf.Summarize("", records, 0, 0)
		summary.Print()
	},
}

// collectRecords loads every per-instance record file in the directory,
// skipping summary.json and temp files.
func collectRecords(dir string) ([]cf.ResultRecord, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var records []cf.ResultRecord
	for _, path := range paths {
		name := filepath.Base(path)
		if name == "summary.json" {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		rec, err := cf.LoadResultRecord(dir, id)
		if err != nil {
			logrus.Warnf("skipping %s: %v", name, err)
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeDir, "output", "results", "Directory holding per-instance records")

	rootCmd.AddCommand(summarizeCmd)
}
