package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	promexport "github.com/crimedesk/authclient/metrics/export/prometheus"
)

// newMetricsCmd prints the counters of this invocation, i.e. what restoring
// the stored session did, in the Prometheus text format.
func newMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print session metrics in Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			if err := reg.Register(promexport.NewPrometheusExporter(a.client)); err != nil {
				return fmt.Errorf("register exporter: %w", err)
			}
			families, err := reg.Gather()
			if err != nil {
				return fmt.Errorf("gather metrics: %w", err)
			}
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), mf); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
