package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/cli"
	"github.com/edgewatch/edgewatch/pkg/store"
)

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage response pipelines",
		Long: `Manage the ordered action plans the orchestrator runs when an offence
arrives from a pipeline's trigger rule. Steps are a JSON list; every
action_id must reference an existing action.

  edgewatch pipeline add --name "Block C2" --rule 3 \
    --steps '[{"action_id": 1, "order": 1}, {"action_id": 2, "order": 2}]'`,
	}
	cmd.AddCommand(
		newPipelineListCmd(),
		newPipelineShowCmd(),
		newPipelineAddCmd(),
		newPipelineSetCmd(),
		newPipelineEnableCmd(true),
		newPipelineEnableCmd(false),
		newPipelineRemoveCmd(),
	)
	return cmd
}

func parseSteps(raw string) (store.StepList, error) {
	if raw == "" {
		return nil, nil
	}
	var steps store.StepList
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, fmt.Errorf("invalid steps JSON: %w", err)
	}
	return steps, nil
}

func newPipelineListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List response pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				pipelines, err := st.Pipelines.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(pipelines)
				}
				if len(pipelines) == 0 {
					fmt.Println("no pipelines")
					return nil
				}
				t := cli.NewTable("ID", "NAME", "ENABLED", "TRIGGER RULE", "STEPS")
				for _, p := range pipelines {
					trigger := "-"
					if p.TriggerCorrelationRuleID != nil {
						trigger = strconv.FormatInt(*p.TriggerCorrelationRuleID, 10)
					}
					t.Row(
						strconv.FormatInt(p.ID, 10),
						p.Name,
						formatBool(p.IsEnabled),
						trigger,
						strconv.Itoa(len(p.ActionsConfig)),
					)
				}
				t.Flush()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newPipelineShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				p, err := st.Pipelines.Get(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(p)
				}
				fmt.Printf("Pipeline %d: %s\n", p.ID, p.Name)
				if p.Description != "" {
					fmt.Printf("  %s\n", p.Description)
				}
				fmt.Printf("  enabled: %s\n", formatBool(p.IsEnabled))
				if p.TriggerCorrelationRuleID != nil {
					fmt.Printf("  trigger rule: %d\n", *p.TriggerCorrelationRuleID)
				}
				for _, step := range store.OrderedSteps(p) {
					a, err := st.Actions.Get(ctx, step.ActionID)
					name := "(missing)"
					if err == nil {
						name = fmt.Sprintf("%s (%s)", a.Name, a.Type)
					}
					fmt.Printf("  step %d: action %d %s\n", step.Order, step.ActionID, name)
					if len(step.ParamsTemplate) > 0 {
						raw, _ := json.Marshal(step.ParamsTemplate)
						fmt.Printf("          params: %s\n", raw)
					}
				}
				return nil
			})
		},
	}
}

type pipelineInput struct {
	name, description, steps string
	ruleID                   int64
}

func pipelineFlags(cmd *cobra.Command, in *pipelineInput) {
	cmd.Flags().StringVar(&in.name, "name", "", "pipeline name")
	cmd.Flags().StringVar(&in.description, "description", "", "description")
	cmd.Flags().Int64Var(&in.ruleID, "rule", 0, "trigger correlation rule id (0 clears)")
	cmd.Flags().StringVar(&in.steps, "steps", "", `actions as JSON: [{"action_id":1,"order":1,"action_params_template":{...}}]`)
}

func (in *pipelineInput) apply(cmd *cobra.Command, p *store.ResponsePipeline) error {
	f := cmd.Flags()
	if f.Changed("name") {
		p.Name = in.name
	}
	if f.Changed("description") {
		p.Description = in.description
	}
	if f.Changed("rule") {
		if in.ruleID <= 0 {
			p.TriggerCorrelationRuleID = nil
		} else {
			v := in.ruleID
			p.TriggerCorrelationRuleID = &v
		}
	}
	if f.Changed("steps") {
		steps, err := parseSteps(in.steps)
		if err != nil {
			return err
		}
		p.ActionsConfig = steps
	}
	return nil
}

func newPipelineAddCmd() *cobra.Command {
	var in pipelineInput
	var disabled bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a response pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				p := &store.ResponsePipeline{IsEnabled: !disabled}
				if err := in.apply(cmd, p); err != nil {
					return err
				}
				created, err := st.Pipelines.Create(ctx, p)
				if err != nil {
					return err
				}
				fmt.Printf("%s pipeline %d (%s)\n", green("Created"), created.ID, created.Name)
				return nil
			})
		},
	}
	pipelineFlags(cmd, &in)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create disabled")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("steps")
	return cmd
}

func newPipelineSetCmd() *cobra.Command {
	var in pipelineInput
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update pipeline fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				p, err := st.Pipelines.Get(ctx, id)
				if err != nil {
					return err
				}
				if err := in.apply(cmd, p); err != nil {
					return err
				}
				if _, err := st.Pipelines.Update(ctx, p); err != nil {
					return err
				}
				fmt.Printf("%s pipeline %d\n", green("Updated"), id)
				return nil
			})
		},
	}
	pipelineFlags(cmd, &in)
	return cmd
}

func newPipelineEnableCmd(enable bool) *cobra.Command {
	use, verb, short := "enable <id>", "Enabled", "Enable a pipeline"
	if !enable {
		use, verb, short = "disable <id>", "Disabled", "Disable a pipeline"
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
				p, err := st.Pipelines.Get(ctx, id)
				if err != nil {
					return err
				}
				p.IsEnabled = enable
				if _, err := st.Pipelines.Update(ctx, p); err != nil {
					return err
				}
				fmt.Printf("%s pipeline %d\n", green(verb), id)
				return nil
			})
		},
	}
}

func newPipelineRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := st.Pipelines.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Printf("%s pipeline %d\n", green("Removed"), id)
				return nil
			})
		},
	}
}
