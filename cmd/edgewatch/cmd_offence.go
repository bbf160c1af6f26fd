package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/cli"
	"github.com/edgewatch/edgewatch/pkg/correlation"
	"github.com/edgewatch/edgewatch/pkg/store"
)

func newOffenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offence",
		Short: "Triage offences and dashboards",
		Long: `Review and triage what the correlation engine raised. Offences are never
deleted; close them with a triage status so the record survives.

  edgewatch offence list --status new
  edgewatch offence set 42 --status closed_true_positive --notes "confirmed C2"
  edgewatch offence summary --days 7`,
	}
	cmd.AddCommand(
		newOffenceListCmd(),
		newOffenceShowCmd(),
		newOffenceSetCmd(),
		newOffenceSummaryCmd(),
		newOffenceTopIoCsCmd(),
		newOffenceByAPTCmd(),
	)
	return cmd
}

func offenceTable(offences []store.Offence) {
	t := cli.NewTable("ID", "DETECTED", "SEVERITY", "STATUS", "RULE", "TITLE")
	for _, o := range offences {
		rule := "-"
		if o.CorrelationRuleID != nil {
			rule = strconv.FormatInt(*o.CorrelationRuleID, 10)
		}
		t.Row(
			strconv.FormatInt(o.ID, 10),
			o.DetectedAt.Local().Format("2006-01-02 15:04:05"),
			cli.Severity(o.Severity),
			cli.OffenceStatus(o.Status),
			rule,
			o.Title,
		)
	}
	t.Flush()
}

func newOffenceListCmd() *cobra.Command {
	var f store.OffenceFilter
	var recent int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List offences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				var offences []store.Offence
				var err error
				if recent > 0 {
					offences, err = st.Offences.Recent(ctx, recent)
				} else {
					offences, err = st.Offences.List(ctx, f)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(offences)
				}
				if len(offences) == 0 {
					fmt.Println("no offences")
					return nil
				}
				offenceTable(offences)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Severity, "severity", "", "filter by severity")
	cmd.Flags().Int64Var(&f.RuleID, "rule", 0, "filter by correlation rule id")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "page offset")
	cmd.Flags().IntVar(&recent, "recent", 0, "show the N most recent instead")
	return cmd
}

func newOffenceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one offence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				o, err := st.Offences.Get(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(o)
				}
				fmt.Printf("Offence %d: %s\n", o.ID, o.Title)
				fmt.Printf("  detected: %s\n", o.DetectedAt.Local().Format("2006-01-02 15:04:05"))
				fmt.Printf("  severity: %s  status: %s\n", cli.Severity(o.Severity), cli.OffenceStatus(o.Status))
				if o.CorrelationRuleID != nil {
					fmt.Printf("  rule:     %d\n", *o.CorrelationRuleID)
				}
				if o.Description != "" {
					fmt.Printf("  %s\n", o.Description)
				}
				if len(o.AttributedAPTGroupIDs) > 0 {
					ids := make([]string, len(o.AttributedAPTGroupIDs))
					for n, v := range o.AttributedAPTGroupIDs {
						ids[n] = strconv.FormatInt(v, 10)
					}
					fmt.Printf("  apt groups: %s\n", strings.Join(ids, ", "))
				}
				if len(o.TriggeringEventSummary) > 0 {
					raw, _ := json.MarshalIndent(o.TriggeringEventSummary, "  ", "  ")
					fmt.Printf("  triggering event: %s\n", raw)
				}
				if len(o.MatchedIoCDetails) > 0 {
					raw, _ := json.MarshalIndent(o.MatchedIoCDetails, "  ", "  ")
					fmt.Printf("  matched IoC: %s\n", raw)
				}
				if o.Notes != "" {
					fmt.Printf("  notes: %s\n", o.Notes)
				}
				if o.AssignedToUserID != nil {
					fmt.Printf("  assigned to user %d\n", *o.AssignedToUserID)
				}
				return nil
			})
		},
	}
}

func newOffenceSetCmd() *cobra.Command {
	var status, severity, notes string
	var assign int64
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update offence triage fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				f := cmd.Flags()
				patch := store.TriagePatch{
					Status:           optString(f.Changed("status"), status),
					Severity:         optString(f.Changed("severity"), severity),
					Notes:            optString(f.Changed("notes"), notes),
					AssignedToUserID: optInt64(f.Changed("assign"), assign),
				}
				o, err := st.Offences.UpdateTriage(ctx, id, patch)
				if err != nil {
					return err
				}
				fmt.Printf("%s offence %d (%s)\n", green("Updated"), o.ID, cli.OffenceStatus(o.Status))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (new|in_progress|closed_*)")
	cmd.Flags().StringVar(&severity, "severity", "", "new severity")
	cmd.Flags().StringVar(&notes, "notes", "", "analyst notes")
	cmd.Flags().Int64Var(&assign, "assign", 0, "assign to user id")
	return cmd
}

func newOffenceSummaryCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count offences per severity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				counts, err := correlation.NewDashboard(st.Offences).SummaryBySeverity(ctx, days)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(counts)
				}
				t := cli.NewTable("SEVERITY", "OFFENCES")
				for _, c := range counts {
					t.Row(cli.Severity(c.Severity), strconv.FormatInt(c.Count, 10))
				}
				t.Flush()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days back")
	return cmd
}

func newOffenceTopIoCsCmd() *cobra.Command {
	var days, n int
	cmd := &cobra.Command{
		Use:   "top-iocs",
		Short: "Rank the IoCs that triggered offences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				top, err := correlation.NewDashboard(st.Offences).TopIoCs(ctx, days, n)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(top)
				}
				if len(top) == 0 {
					fmt.Println("no IoC-matched offences in the window")
					return nil
				}
				t := cli.NewTable("VALUE", "TYPE", "OFFENCES")
				for _, row := range top {
					t.Row(row.Value, row.Type, strconv.Itoa(row.Count))
				}
				t.Flush()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days back")
	cmd.Flags().IntVar(&n, "n", 10, "rows")
	return cmd
}

func newOffenceByAPTCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "by-apt",
		Short: "Count offences per attributed APT group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				counts, err := correlation.NewDashboard(st.Offences).ByAPT(ctx, days)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(counts)
				}
				if len(counts) == 0 {
					fmt.Println("no attributed offences in the window")
					return nil
				}
				t := cli.NewTable("APT ID", "NAME", "OFFENCES")
				for _, c := range counts {
					t.Row(strconv.FormatInt(c.APTGroupID, 10), c.Name, strconv.FormatInt(c.Count, 10))
				}
				t.Flush()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days back")
	return cmd
}
