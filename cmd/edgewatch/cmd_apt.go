package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/cli"
	"github.com/edgewatch/edgewatch/pkg/indicator"
	"github.com/edgewatch/edgewatch/pkg/store"
)

func newAPTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apt",
		Short: "Manage APT groups",
		Long: `Manage the threat actor groups indicators are attributed to. Removing a
group scrubs its id from every IoC document before the row is deleted.

  edgewatch apt add --name "APT28" --country RU --sophistication advanced
  edgewatch ioc list --apt 7`,
	}
	cmd.AddCommand(
		newAPTListCmd(),
		newAPTShowCmd(),
		newAPTAddCmd(),
		newAPTSetCmd(),
		newAPTRemoveCmd(),
	)
	return cmd
}

func newAPTListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List APT groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				groups, err := st.APTGroups.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(groups)
				}
				if len(groups) == 0 {
					fmt.Println("no APT groups")
					return nil
				}
				t := cli.NewTable("ID", "NAME", "ALIASES", "COUNTRY", "SOPHISTICATION", "MOTIVATION")
				for _, g := range groups {
					t.Row(
						strconv.FormatInt(g.ID, 10),
						g.Name,
						strings.Join(g.Aliases, ","),
						g.CountryOfOrigin,
						g.Sophistication,
						g.PrimaryMotivation,
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

func newAPTShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one APT group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				g, err := st.APTGroups.Get(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(g)
				}
				fmt.Printf("APT group %d: %s\n", g.ID, g.Name)
				if len(g.Aliases) > 0 {
					fmt.Printf("  aliases:        %s\n", strings.Join(g.Aliases, ", "))
				}
				if g.Description != "" {
					fmt.Printf("  %s\n", g.Description)
				}
				fmt.Printf("  country:        %s\n", g.CountryOfOrigin)
				fmt.Printf("  sophistication: %s\n", g.Sophistication)
				fmt.Printf("  motivation:     %s\n", g.PrimaryMotivation)
				if len(g.TargetSectors) > 0 {
					fmt.Printf("  targets:        %s\n", strings.Join(g.TargetSectors, ", "))
				}
				fmt.Printf("  first observed: %s\n", formatTime(g.FirstObserved))
				fmt.Printf("  last observed:  %s\n", formatTime(g.LastObserved))
				for _, u := range g.ReferenceURLs {
					fmt.Printf("  ref: %s\n", u)
				}
				return nil
			})
		},
	}
}

type aptInput struct {
	name, description, sophistication, motivation, country string
	aliases, sectors, refs                                 []string
}

func aptFlags(cmd *cobra.Command, in *aptInput) {
	cmd.Flags().StringVar(&in.name, "name", "", "group name")
	cmd.Flags().StringVar(&in.description, "description", "", "description")
	cmd.Flags().StringSliceVar(&in.aliases, "aliases", nil, "known aliases")
	cmd.Flags().StringVar(&in.sophistication, "sophistication", "", "sophistication level")
	cmd.Flags().StringVar(&in.motivation, "motivation", "", "primary motivation")
	cmd.Flags().StringSliceVar(&in.sectors, "sectors", nil, "targeted sectors")
	cmd.Flags().StringVar(&in.country, "country", "", "country of origin")
	cmd.Flags().StringSliceVar(&in.refs, "refs", nil, "reference URLs")
}

func (in *aptInput) apply(cmd *cobra.Command, g *store.APTGroup) {
	f := cmd.Flags()
	if f.Changed("name") {
		g.Name = in.name
	}
	if f.Changed("description") {
		g.Description = in.description
	}
	if f.Changed("aliases") {
		g.Aliases = in.aliases
	}
	if f.Changed("sophistication") {
		g.Sophistication = in.sophistication
	}
	if f.Changed("motivation") {
		g.PrimaryMotivation = in.motivation
	}
	if f.Changed("sectors") {
		g.TargetSectors = in.sectors
	}
	if f.Changed("country") {
		g.CountryOfOrigin = in.country
	}
	if f.Changed("refs") {
		g.ReferenceURLs = in.refs
	}
}

func newAPTAddCmd() *cobra.Command {
	var in aptInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an APT group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				g := &store.APTGroup{}
				in.apply(cmd, g)
				created, err := st.APTGroups.Create(ctx, g)
				if err != nil {
					return err
				}
				fmt.Printf("%s APT group %d (%s)\n", green("Created"), created.ID, created.Name)
				return nil
			})
		},
	}
	aptFlags(cmd, &in)
	cmd.MarkFlagRequired("name")
	return cmd
}

func newAPTSetCmd() *cobra.Command {
	var in aptInput
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update APT group fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				g, err := st.APTGroups.Get(ctx, id)
				if err != nil {
					return err
				}
				in.apply(cmd, g)
				if _, err := st.APTGroups.Update(ctx, g); err != nil {
					return err
				}
				fmt.Printf("%s APT group %d\n", green("Updated"), id)
				return nil
			})
		},
	}
	aptFlags(cmd, &in)
	return cmd
}

// newAPTRemoveCmd deletes through the indicator service so the group's id
// is scrubbed from every IoC document first.
func newAPTRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an APT group and scrub its attributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				if err := iocs.PurgeAPTGroup(ctx, id); err != nil {
					return err
				}
				fmt.Printf("%s APT group %d\n", green("Removed"), id)
				return nil
			})
		},
	}
}
