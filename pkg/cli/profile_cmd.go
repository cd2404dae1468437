package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duck-expect/internal/expectation"
	"duck-expect/internal/metric"
	"duck-expect/internal/profiler"
)

func newProfileCmd(a *app) *cobra.Command {
	var (
		dataURI        string
		configPath     string
		backend        metric.Backend
		batchID        string
		suiteOut       string
		parametersOut  string
		validateResult bool
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Generate an expectation suite by profiling a batch",
		Long: `Run the rules of the profiler configuration at --config against the batch at
--data and print the generated expectation suite as YAML.`,
		Example: `  duck-expect profile --data trips.csv --config profiler.yaml > trips.yaml
  duck-expect profile --data trips.csv --config profiler.yaml --suite-out trips.yaml --parameters-out params.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cat := expectation.DefaultCatalog()
			cfg, err := profiler.LoadConfigFile(configPath)
			if err != nil {
				return err
			}
			p, err := profiler.New(cfg, cat, profiler.WithLogger(a.logger), profiler.WithMetrics(a.metrics))
			if err != nil {
				return err
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

			out, err := p.Profile(ctx, eng, b.ID)
			if err != nil {
				return err
			}

			if parametersOut != "" {
				if err := writeFile(parametersOut, indentJSON(out.Parameters)); err != nil {
					return err
				}
			}
			doc, err := out.Suite.YAML()
			if err != nil {
				return err
			}
			if suiteOut != "" {
				if err := writeFile(suiteOut, doc); err != nil {
					return err
				}
			}

			if validateResult {
				res, err := expectation.NewRunner(cat,
					expectation.WithLogger(a.logger),
					expectation.WithMetrics(a.metrics),
					expectation.WithPartialUnexpectedCount(a.cfg.PartialUnexpectedCount),
				).Run(ctx, eng, out.Suite, b.ID)
				if err != nil {
					return err
				}
				if !res.Success {
					a.logger.Warn("generated suite does not pass on its own batch",
						"unsuccessful", res.Statistics.Unsuccessful)
				}
			}

			switch {
			case getOutputFormat(cmd) == "json":
				return printJSON(a.stdout, map[string]any{
					"suite":      out.Suite,
					"parameters": out.Parameters,
				})
			case suiteOut == "":
				_, err := a.stdout.Write(doc)
				return err
			default:
				_, _ = fmt.Fprintf(a.stdout, "wrote %d expectations to %s\n", len(out.Suite.Expectations), suiteOut)
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&dataURI, "data", "", "Batch URI: a CSV path, file://, s3://, gs://, az:// or abfss:// URI")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to the profiler configuration YAML")
	addEngineFlag(cmd.Flags(), &backend)
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch identifier (default: a fresh UUID)")
	cmd.Flags().StringVar(&suiteOut, "suite-out", "", "Write the generated suite to this file instead of stdout")
	cmd.Flags().StringVar(&parametersOut, "parameters-out", "", "Write the computed parameters as JSON to this file")
	cmd.Flags().BoolVar(&validateResult, "check", false, "Validate the batch against the generated suite and warn if it does not pass")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func indentJSON(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return append(b, '\n')
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
