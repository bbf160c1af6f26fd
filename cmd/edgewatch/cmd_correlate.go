package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/correlation"
	"github.com/edgewatch/edgewatch/pkg/device"
	"github.com/edgewatch/edgewatch/pkg/response"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

func newCorrelateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Correlation engine operations",
	}

	var noRespond bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one correlation cycle",
		Long: `Run one correlation cycle outside the serve scheduler: evaluate every
enabled rule against the document store, raise offences, and execute their
response pipelines. Useful after loading new rules or IoCs.

  edgewatch correlate run
  edgewatch correlate run --no-respond --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				docs, err := openDocs()
				if err != nil {
					return err
				}

				cooldown := correlation.NewCooldown(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
				defer cooldown.Close()

				engine := correlation.NewEngine(st.Rules, st.Offences, docs, cooldown)
				if !noRespond {
					orch := response.NewOrchestrator(st.Pipelines, st.Actions, nil)
					if sealer, err := newSealer(); err != nil {
						util.Warnf("Device response actions disabled: %v", err)
					} else {
						orch.SetDeviceActor(device.NewService(st.Devices, sealer))
					}
					engine.SetResponder(orch)
				}

				stats, err := engine.RunCycle(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stats)
				}
				fmt.Printf("Cycle %s finished in %s\n", stats.RunID, stats.Duration.Round(time.Millisecond))
				fmt.Printf("  rules evaluated:     %d\n", stats.Rules)
				fmt.Printf("  offences created:    %d\n", stats.Offences)
				fmt.Printf("  offences suppressed: %d\n", stats.Suppressed)
				if stats.Errors > 0 {
					fmt.Printf("  rule errors:         %s\n", red(fmt.Sprintf("%d", stats.Errors)))
				}
				return nil
			})
		},
	}
	run.Flags().BoolVar(&noRespond, "no-respond", false, "raise offences without executing response pipelines")

	cmd.AddCommand(run)
	return cmd
}
