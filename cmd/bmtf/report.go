package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/buckleypaul/bmtf/internal/harvest"
	"github.com/buckleypaul/bmtf/internal/report"
)

var (
	reportOut string

	reportCmd = &cobra.Command{
		Use:   "report DIR",
		Short: "Render XML reports from harvested *_test_result files",
		Long: `Render one XML report per *_test_result file in DIR. Reports are
written next to the result files unless --out is given.

Example calls:
$ bmtf report bmtf-workspace/2024_03_09_14_05-1a2b3c4d/test_results
$ bmtf report ./results --out ./junit
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			out := reportOut
			if out == "" {
				out = dir
			}
			files, err := harvest.ResultFiles(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no *_test_result files in %s", dir)
			}
			written, err := report.WriteAll(files, out)
			for _, w := range written {
				log.WithFields(log.Fields{
					"suite": w.Suite,
					"pass":  w.Results.Count(report.Pass),
					"fail":  w.Results.Count(report.Fail),
					"skip":  w.Results.Count(report.Skip),
				}).Info(w.Path)
			}
			return err
		},
	}
)

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Directory for the XML reports")
	rootCmd.AddCommand(reportCmd)
}
