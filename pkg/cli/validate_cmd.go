package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"duck-expect/internal/domain"
	"duck-expect/internal/expectation"
	"duck-expect/internal/metric"
)

func newValidateCmd(a *app) *cobra.Command {
	var (
		dataURI      string
		suitePath    string
		backend      metric.Backend
		batchID      string
		resultFormat string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a batch against an expectation suite",
		Long: `Load the batch at --data, evaluate every expectation of the suite at --suite
against it and print one result per expectation.

The command exits with status 2 when the suite ran but at least one
expectation was unsuccessful.`,
		Example: `  duck-expect validate --data trips.csv --suite trips.yaml
  duck-expect validate --data s3://bucket/trips.csv --suite trips.yaml --engine sql -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cat := expectation.DefaultCatalog()
			suite, err := expectation.LoadSuiteFile(suitePath)
			if err != nil {
				return err
			}
			if err := suite.Validate(cat); err != nil {
				return err
			}

			opts := []expectation.Option{
				expectation.WithLogger(a.logger),
				expectation.WithMetrics(a.metrics),
				expectation.WithPartialUnexpectedCount(a.cfg.PartialUnexpectedCount),
			}
			if resultFormat != "" {
				rf, err := domain.ParseResultFormat(resultFormat)
				if err != nil {
					return err
				}
				rf.PartialUnexpectedCount = a.cfg.PartialUnexpectedCount
				opts = append(opts, expectation.WithResultFormat(rf))
			}

			b, err := a.loadBatch(ctx, dataURI, batchID)
			if err != nil {
				return err
			}
			reg, err := newRegistry()
			if err != nil {
				return err
			}
			eng, release, err := a.newEngine(ctx, backend, reg, b)
			if err != nil {
				return err
			}
			defer release()

			res, err := expectation.NewRunner(cat, opts...).Run(ctx, eng, suite, b.ID)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				if err := printJSON(a.stdout, res); err != nil {
					return err
				}
			} else {
				printSuiteResult(a, res)
			}
			if !res.Success {
				if err := a.writeMetrics(); err != nil {
					return err
				}
				return errSuiteFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataURI, "data", "", "Batch URI: a CSV path, file://, s3://, gs://, az:// or abfss:// URI")
	cmd.Flags().StringVar(&suitePath, "suite", "", "Path to the expectation suite YAML")
	addEngineFlag(cmd.Flags(), &backend)
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch identifier (default: a fresh UUID)")
	cmd.Flags().StringVar(&resultFormat, "result-format", "", "Result format for expectations without their own (BOOLEAN_ONLY, BASIC, SUMMARY, COMPLETE)")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("suite")

	return cmd
}

func printSuiteResult(a *app, res *expectation.SuiteResult) {
	rows := make([][]string, 0, len(res.Results))
	for i, r := range res.Results {
		status := "PASS"
		switch {
		case r.ExceptionInfo.RaisedException:
			status = "ERROR"
		case !r.Success:
			status = "FAIL"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			r.Configuration.Type,
			formatValue(r.Configuration.Kwargs[domain.KeyColumn]),
			status,
			resultSummary(r),
		})
	}
	printTable(a.stdout, []string{"#", "expectation", "column", "status", "details"}, rows)

	st := res.Statistics
	_, _ = fmt.Fprintf(a.stdout, "\nsuite %s on batch %s: %d of %d expectations passed (%.1f%%)\n",
		res.Suite, res.BatchID, st.Successful, st.Evaluated, st.SuccessPercent)
}

func resultSummary(r expectation.Result) string {
	if r.ExceptionInfo.RaisedException {
		return r.ExceptionInfo.Kind + ": " + r.ExceptionInfo.Message
	}
	if v, ok := r.Result["observed_value"]; ok {
		return "observed " + formatValue(v)
	}
	if v, ok := r.Result["unexpected_count"]; ok {
		return fmt.Sprintf("%s unexpected (%s%%)", formatValue(v), formatValue(r.Result["unexpected_percent"]))
	}
	return ""
}
