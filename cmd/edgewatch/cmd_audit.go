package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/audit"
	"github.com/edgewatch/edgewatch/pkg/cli"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Response action audit trail",
	}
	cmd.AddCommand(newAuditListCmd())
	return cmd
}

func newAuditListCmd() *cobra.Command {
	var (
		action, device   string
		offenceID        int64
		ruleID           int64
		since            string
		failures, manual bool
		limit            int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executed response steps",
		Long: `List what the response orchestrator has done: every executed step with
its action, device, target and outcome. The trail is a local file so it
survives outages of the stores it reports on.

  edgewatch audit list --offence 42
  edgewatch audit list --action block_ip --failures`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Audit.Path == "" {
				return fmt.Errorf("audit logging is not configured (set audit.path)")
			}
			logger, err := audit.NewFileLogger(cfg.Audit.Path, audit.RotationConfig{})
			if err != nil {
				return err
			}
			defer logger.Close()

			filter := audit.Filter{
				Action:      action,
				Device:      device,
				OffenceID:   offenceID,
				RuleID:      ruleID,
				FailureOnly: failures,
				Limit:       limit,
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				filter.StartTime = time.Now().Add(-d)
			}

			events, err := logger.Query(filter)
			if err != nil {
				return err
			}
			if manual {
				kept := events[:0]
				for _, e := range events {
					if e.Manual {
						kept = append(kept, e)
					}
				}
				events = kept
			}
			if jsonOutput {
				return printJSON(events)
			}
			if len(events) == 0 {
				fmt.Println("no audit events")
				return nil
			}
			t := cli.NewTable("TIME", "ACTION", "DEVICE", "TARGET", "OFFENCE", "OUTCOME", "DURATION")
			for _, e := range events {
				outcome := green("ok")
				if !e.Success {
					outcome = red("failed")
				}
				offence := "-"
				if e.OffenceID > 0 {
					offence = strconv.FormatInt(e.OffenceID, 10)
				}
				t.Row(
					e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					e.Action,
					e.Device,
					e.Target,
					offence,
					outcome,
					e.Duration.Round(time.Millisecond).String(),
				)
			}
			t.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "filter by action type")
	cmd.Flags().StringVar(&device, "device", "", "filter by device name")
	cmd.Flags().Int64Var(&offenceID, "offence", 0, "filter by offence id")
	cmd.Flags().Int64Var(&ruleID, "rule", 0, "filter by correlation rule id")
	cmd.Flags().StringVar(&since, "since", "", "only events newer than this (e.g. 24h)")
	cmd.Flags().BoolVar(&failures, "failures", false, "only failed steps")
	cmd.Flags().BoolVar(&manual, "manual", false, "only operator-triggered steps")
	cmd.Flags().IntVar(&limit, "limit", 0, "max events")
	return cmd
}
