package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"duck-expect/internal/metric"
)

type providerInfo struct {
	Name       string   `json:"name"`
	Backend    string   `json:"backend"`
	FnType     string   `json:"fn_type"`
	DomainType string   `json:"domain_type"`
	DomainKeys []string `json:"domain_keys,omitempty"`
	ValueKeys  []string `json:"value_keys,omitempty"`
}

func newMetricsCmd(a *app) *cobra.Command {
	var (
		engines []string
		prefix  string
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "List the metric providers registered for each engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}
			infos := []providerInfo{}
			for _, name := range engines {
				backend, err := metric.ParseBackend(name)
				if err != nil {
					return err
				}
				for _, p := range reg.Providers(backend) {
					if prefix != "" && !strings.HasPrefix(p.Name, prefix) {
						continue
					}
					infos = append(infos, providerInfo{
						Name:       p.Name,
						Backend:    string(p.Backend),
						FnType:     string(p.FnType),
						DomainType: string(p.DomainType),
						DomainKeys: p.DomainKeys,
						ValueKeys:  p.ValueKeys,
					})
				}
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(a.stdout, infos)
			}
			rows := make([][]string, 0, len(infos))
			for _, in := range infos {
				rows = append(rows, []string{in.Name, in.Backend, in.FnType, in.DomainType, strings.Join(in.ValueKeys, ",")})
			}
			printTable(a.stdout, []string{"name", "engine", "fn type", "domain type", "value kwargs"}, rows)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&engines, "engine", []string{string(metric.BackendMemory)}, "Engines to list (memory, sql, lazy); repeatable")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list metrics whose name starts with this prefix")

	return cmd
}
