package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/cli"
	"github.com/edgewatch/edgewatch/pkg/store"
)

func newRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage correlation rules",
		Long: `Manage the detection rules the correlation engine evaluates.

Rule types:
  IOC_MATCH_IP                 match event fields against active IoCs
  THRESHOLD_LOGIN_FAILURES     count failed logins per aggregation bucket
  THRESHOLD_DATA_EXFILTRATION  sum transferred bytes per aggregation bucket

  edgewatch rule add --name "C2 traffic" --type IOC_MATCH_IP \
    --match-field destination_ip --ioc-type ipv4-addr --severity high \
    --title "Traffic to {ioc_value} from {source_ip}"`,
	}
	cmd.AddCommand(
		newRuleListCmd(),
		newRuleShowCmd(),
		newRuleAddCmd(),
		newRuleSetCmd(),
		newRuleEnableCmd(true),
		newRuleEnableCmd(false),
		newRuleRemoveCmd(),
	)
	return cmd
}

func newRuleListCmd() *cobra.Command {
	var limit, offset int
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List correlation rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				var rules []store.CorrelationRule
				var err error
				if enabledOnly {
					rules, err = st.Rules.ListEnabled(ctx)
				} else {
					rules, err = st.Rules.List(ctx, limit, offset)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(rules)
				}
				if len(rules) == 0 {
					fmt.Println("no rules")
					return nil
				}
				t := cli.NewTable("ID", "NAME", "TYPE", "SEVERITY", "ENABLED")
				for _, r := range rules {
					t.Row(
						strconv.FormatInt(r.ID, 10),
						r.Name,
						r.RuleType,
						cli.Severity(r.OffenceSeverity),
						formatBool(r.IsEnabled),
					)
				}
				t.Flush()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled rules")
	return cmd
}

func newRuleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				r, err := st.Rules.Get(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(r)
				}
				fmt.Printf("Rule %d: %s (%s)\n", r.ID, r.Name, r.RuleType)
				if r.Description != "" {
					fmt.Printf("  %s\n", r.Description)
				}
				fmt.Printf("  enabled:  %s\n", formatBool(r.IsEnabled))
				fmt.Printf("  severity: %s\n", cli.Severity(r.OffenceSeverity))
				fmt.Printf("  title:    %s\n", r.OffenceTitleTemplate)
				if len(r.EventSourceType) > 0 {
					fmt.Printf("  sources:  %s\n", strings.Join(r.EventSourceType, ", "))
				}
				switch r.RuleType {
				case store.RuleIOCMatchIP:
					fmt.Printf("  match:    event.%s against %s IoCs\n", r.EventFieldToMatch, r.IoCTypeToMatch)
					if len(r.IoCTagsMatch) > 0 {
						fmt.Printf("  tags:     %s\n", strings.Join(r.IoCTagsMatch, ", "))
					}
					if r.IoCMinConfidence != nil {
						fmt.Printf("  min confidence: %d\n", *r.IoCMinConfidence)
					}
				default:
					if r.ThresholdCount != nil && r.ThresholdWindowMinutes != nil {
						fmt.Printf("  threshold: %d in %d minutes\n", *r.ThresholdCount, *r.ThresholdWindowMinutes)
					}
					if len(r.AggregationFields) > 0 {
						fmt.Printf("  group by:  %s\n", strings.Join(r.AggregationFields, ", "))
					}
				}
				return nil
			})
		},
	}
}

func ruleFlags(cmd *cobra.Command, r *ruleInput) {
	cmd.Flags().StringVar(&r.name, "name", "", "rule name")
	cmd.Flags().StringVar(&r.description, "description", "", "rule description")
	cmd.Flags().StringVar(&r.ruleType, "type", "", "rule type")
	cmd.Flags().StringVar(&r.severity, "severity", "", "offence severity (low|medium|high|critical)")
	cmd.Flags().StringVar(&r.title, "title", "", "offence title template ({source_ip}, {ioc_value}, ...)")
	cmd.Flags().StringSliceVar(&r.sources, "sources", nil, "event source types (syslog,netflow)")
	cmd.Flags().StringVar(&r.matchField, "match-field", "", "event field to match (IOC_MATCH_IP)")
	cmd.Flags().StringVar(&r.iocType, "ioc-type", "", "IoC type to match (IOC_MATCH_IP)")
	cmd.Flags().StringSliceVar(&r.iocTags, "ioc-tags", nil, "only IoCs carrying these tags")
	cmd.Flags().IntVar(&r.minConfidence, "min-confidence", 0, "minimum IoC confidence 0-100")
	cmd.Flags().Int64Var(&r.threshold, "threshold", 0, "threshold count (THRESHOLD_*)")
	cmd.Flags().IntVar(&r.window, "window", 0, "threshold window in minutes (THRESHOLD_*)")
	cmd.Flags().StringSliceVar(&r.groupBy, "group-by", nil, "aggregation fields (THRESHOLD_*)")
}

type ruleInput struct {
	name, description, ruleType, severity, title string
	sources, iocTags, groupBy                    []string
	matchField, iocType                          string
	minConfidence, window                        int
	threshold                                    int64
}

// apply copies the flags that were set onto the rule.
func (in *ruleInput) apply(cmd *cobra.Command, r *store.CorrelationRule) {
	f := cmd.Flags()
	if f.Changed("name") {
		r.Name = in.name
	}
	if f.Changed("description") {
		r.Description = in.description
	}
	if f.Changed("type") {
		r.RuleType = in.ruleType
	}
	if f.Changed("severity") {
		r.OffenceSeverity = in.severity
	}
	if f.Changed("title") {
		r.OffenceTitleTemplate = in.title
	}
	if f.Changed("sources") {
		r.EventSourceType = in.sources
	}
	if f.Changed("match-field") {
		r.EventFieldToMatch = in.matchField
	}
	if f.Changed("ioc-type") {
		r.IoCTypeToMatch = in.iocType
	}
	if f.Changed("ioc-tags") {
		r.IoCTagsMatch = in.iocTags
	}
	if f.Changed("min-confidence") {
		v := in.minConfidence
		r.IoCMinConfidence = &v
	}
	if f.Changed("threshold") {
		v := in.threshold
		r.ThresholdCount = &v
	}
	if f.Changed("window") {
		v := in.window
		r.ThresholdWindowMinutes = &v
	}
	if f.Changed("group-by") {
		r.AggregationFields = in.groupBy
	}
}

func newRuleAddCmd() *cobra.Command {
	var in ruleInput
	var disabled bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a correlation rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				r := &store.CorrelationRule{IsEnabled: !disabled}
				in.apply(cmd, r)
				created, err := st.Rules.Create(ctx, r)
				if err != nil {
					return err
				}
				fmt.Printf("%s rule %d (%s)\n", green("Created"), created.ID, created.Name)
				return nil
			})
		},
	}
	ruleFlags(cmd, &in)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create disabled")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("severity")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newRuleSetCmd() *cobra.Command {
	var in ruleInput
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update rule fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				r, err := st.Rules.Get(ctx, id)
				if err != nil {
					return err
				}
				in.apply(cmd, r)
				if _, err := st.Rules.Update(ctx, r); err != nil {
					return err
				}
				fmt.Printf("%s rule %d\n", green("Updated"), id)
				return nil
			})
		},
	}
	ruleFlags(cmd, &in)
	return cmd
}

func newRuleEnableCmd(enable bool) *cobra.Command {
	use, verb, short := "enable <id>", "Enabled", "Enable a rule"
	if !enable {
		use, verb, short = "disable <id>", "Disabled", "Disable a rule"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := st.Rules.SetEnabled(ctx, id, enable); err != nil {
					return err
				}
				fmt.Printf("%s rule %d\n", green(verb), id)
				return nil
			})
		},
	}
}

func newRuleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := st.Rules.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Printf("%s rule %d\n", green("Removed"), id)
				return nil
			})
		},
	}
}
