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

func newActionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Manage response actions",
		Long: `Manage the executable effects response pipelines are built from.
Default parameters are a JSON object; pipeline steps overlay their own
templates on top, and string values may reference the offence
({offence.severity}, {offence.matched_ioc_details.value}, ...).

  edgewatch action add --name "Block at edge" --type block_ip \
    --params '{"device_id": 1, "list_name": "siem_auto_blocked_ips"}'`,
	}
	cmd.AddCommand(
		newActionListCmd(),
		newActionShowCmd(),
		newActionAddCmd(),
		newActionSetCmd(),
		newActionEnableCmd(true),
		newActionEnableCmd(false),
		newActionRemoveCmd(),
	)
	return cmd
}

// parseJSONMap decodes a --params style flag value.
func parseJSONMap(raw string) (store.JSONMap, error) {
	if raw == "" {
		return nil, nil
	}
	var m store.JSONMap
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return m, nil
}

func newActionListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List response actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				actions, err := st.Actions.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(actions)
				}
				if len(actions) == 0 {
					fmt.Println("no actions")
					return nil
				}
				t := cli.NewTable("ID", "NAME", "TYPE", "ENABLED")
				for _, a := range actions {
					t.Row(
						strconv.FormatInt(a.ID, 10),
						a.Name,
						a.Type,
						formatBool(a.IsEnabled),
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

func newActionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				a, err := st.Actions.Get(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(a)
				}
				fmt.Printf("Action %d: %s (%s)\n", a.ID, a.Name, a.Type)
				if a.Description != "" {
					fmt.Printf("  %s\n", a.Description)
				}
				fmt.Printf("  enabled: %s\n", formatBool(a.IsEnabled))
				if len(a.DefaultParams) > 0 {
					raw, _ := json.MarshalIndent(a.DefaultParams, "  ", "  ")
					fmt.Printf("  default params: %s\n", raw)
				}
				return nil
			})
		},
	}
}

type actionInput struct {
	name, description, actionType, params string
}

func actionFlags(cmd *cobra.Command, in *actionInput) {
	cmd.Flags().StringVar(&in.name, "name", "", "action name")
	cmd.Flags().StringVar(&in.description, "description", "", "description")
	cmd.Flags().StringVar(&in.actionType, "type", "", "action type (block_ip|unblock_ip|send_email|create_ticket|isolate_host)")
	cmd.Flags().StringVar(&in.params, "params", "", "default parameters as a JSON object")
}

func (in *actionInput) apply(cmd *cobra.Command, a *store.ResponseAction) error {
	f := cmd.Flags()
	if f.Changed("name") {
		a.Name = in.name
	}
	if f.Changed("description") {
		a.Description = in.description
	}
	if f.Changed("type") {
		a.Type = in.actionType
	}
	if f.Changed("params") {
		params, err := parseJSONMap(in.params)
		if err != nil {
			return err
		}
		a.DefaultParams = params
	}
	return nil
}

func newActionAddCmd() *cobra.Command {
	var in actionInput
	var disabled bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a response action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				a := &store.ResponseAction{IsEnabled: !disabled}
				if err := in.apply(cmd, a); err != nil {
					return err
				}
				created, err := st.Actions.Create(ctx, a)
				if err != nil {
					return err
				}
				fmt.Printf("%s action %d (%s)\n", green("Created"), created.ID, created.Name)
				return nil
			})
		},
	}
	actionFlags(cmd, &in)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create disabled")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newActionSetCmd() *cobra.Command {
	var in actionInput
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update action fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				a, err := st.Actions.Get(ctx, id)
				if err != nil {
					return err
				}
				if err := in.apply(cmd, a); err != nil {
					return err
				}
				if _, err := st.Actions.Update(ctx, a); err != nil {
					return err
				}
				fmt.Printf("%s action %d\n", green("Updated"), id)
				return nil
			})
		},
	}
	actionFlags(cmd, &in)
	return cmd
}

func newActionEnableCmd(enable bool) *cobra.Command {
	use, verb, short := "enable <id>", "Enabled", "Enable an action"
	if !enable {
		use, verb, short = "disable <id>", "Disabled", "Disable an action"
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
				a, err := st.Actions.Get(ctx, id)
				if err != nil {
					return err
				}
				a.IsEnabled = enable
				if _, err := st.Actions.Update(ctx, a); err != nil {
					return err
				}
				fmt.Printf("%s action %d\n", green(verb), id)
				return nil
			})
		},
	}
}

func newActionRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := st.Actions.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Printf("%s action %d\n", green("Removed"), id)
				return nil
			})
		},
	}
}
