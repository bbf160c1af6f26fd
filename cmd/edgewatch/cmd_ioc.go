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

func newIoCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ioc",
		Short: "Manage indicators of compromise",
		Long: `Manage the IoC documents the correlation engine matches events against.
Indicators live in the document store; attribution to APT groups derives
apt:<name> tags automatically.

  edgewatch ioc add --value 203.0.113.9 --type ipv4-addr --confidence 80
  edgewatch ioc find 203.0.113.9
  edgewatch ioc link <ioc-id> 7`,
	}
	cmd.AddCommand(
		newIoCListCmd(),
		newIoCShowCmd(),
		newIoCAddCmd(),
		newIoCSetCmd(),
		newIoCFindCmd(),
		newIoCLinkCmd(),
		newIoCDeactivateCmd(),
		newIoCRemoveCmd(),
		newIoCSummaryCmd(),
		newIoCTagsCmd(),
	)
	return cmd
}

func iocTable(iocs []indicator.IoC) {
	t := cli.NewTable("ID", "VALUE", "TYPE", "ACTIVE", "CONFIDENCE", "TAGS", "UPDATED")
	for _, i := range iocs {
		conf := "-"
		if i.Confidence != nil {
			conf = strconv.Itoa(*i.Confidence)
		}
		t.Row(
			i.ID,
			i.Value,
			i.Type,
			formatBool(i.IsActive),
			conf,
			strings.Join(i.Tags, ","),
			i.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	t.Flush()
}

func newIoCListCmd() *cobra.Command {
	var skip, limit int
	var today bool
	var aptID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indicators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				var out []indicator.IoC
				var err error
				switch {
				case today:
					out, err = iocs.ListCreatedToday(ctx, skip, limit)
				case aptID > 0:
					out, err = iocs.ListByAPT(ctx, aptID, skip, limit)
				default:
					out, err = iocs.List(ctx, skip, limit)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out)
				}
				if len(out) == 0 {
					fmt.Println("no indicators")
					return nil
				}
				iocTable(out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "page offset")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().BoolVar(&today, "today", false, "only indicators created today")
	cmd.Flags().Int64Var(&aptID, "apt", 0, "only indicators attributed to this APT group id")
	return cmd
}

func newIoCShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one indicator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				i, err := iocs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(i)
				}
				printIoC(i)
				return nil
			})
		},
	}
}

func printIoC(i *indicator.IoC) {
	fmt.Printf("IoC %s\n", i.ID)
	fmt.Printf("  value:      %s (%s)\n", i.Value, i.Type)
	fmt.Printf("  active:     %s\n", formatBool(i.IsActive))
	if i.Confidence != nil {
		fmt.Printf("  confidence: %d\n", *i.Confidence)
	}
	if i.Description != "" {
		fmt.Printf("  %s\n", i.Description)
	}
	if i.SourceName != "" {
		fmt.Printf("  source:     %s\n", i.SourceName)
	}
	if len(i.Tags) > 0 {
		fmt.Printf("  tags:       %s\n", strings.Join(i.Tags, ", "))
	}
	if len(i.APTGroupIDs) > 0 {
		ids := make([]string, len(i.APTGroupIDs))
		for n, id := range i.APTGroupIDs {
			ids[n] = strconv.FormatInt(id, 10)
		}
		fmt.Printf("  apt groups: %s\n", strings.Join(ids, ", "))
	}
	fmt.Printf("  first seen: %s\n", formatTime(i.FirstSeen))
	fmt.Printf("  last seen:  %s\n", formatTime(i.LastSeen))
}

func newIoCAddCmd() *cobra.Command {
	var (
		value, iocType, description, source string
		confidence                          int
		tags                                []string
		aptIDs                              []int64
		inactive                            bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an indicator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				ioc := &indicator.IoC{
					Value:       value,
					Type:        iocType,
					Description: description,
					SourceName:  source,
					IsActive:    !inactive,
					Tags:        tags,
					APTGroupIDs: aptIDs,
				}
				if cmd.Flags().Changed("confidence") {
					ioc.Confidence = &confidence
				}
				created, err := iocs.Add(ctx, ioc)
				if err != nil {
					return err
				}
				fmt.Printf("%s IoC %s (%s %s)\n", green("Created"), created.ID, created.Type, created.Value)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "indicator value")
	cmd.Flags().StringVar(&iocType, "type", "", "indicator type (ipv4-addr, domain-name, url, ...)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&source, "source", "", "source name")
	cmd.Flags().IntVar(&confidence, "confidence", 0, "confidence 0-100")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags")
	cmd.Flags().Int64SliceVar(&aptIDs, "apt-ids", nil, "attributed APT group ids")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create inactive")
	cmd.MarkFlagRequired("value")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newIoCSetCmd() *cobra.Command {
	var (
		value, iocType, description, source string
		confidence                          int
		active                              bool
		tags                                []string
		aptIDs                              []int64
	)
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update indicator fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				f := cmd.Flags()
				patch := indicator.Patch{
					Value:       optString(f.Changed("value"), value),
					Type:        optString(f.Changed("type"), iocType),
					Description: optString(f.Changed("description"), description),
					SourceName:  optString(f.Changed("source"), source),
				}
				if f.Changed("confidence") {
					patch.Confidence = &confidence
				}
				if f.Changed("active") {
					patch.IsActive = &active
				}
				if f.Changed("tags") {
					patch.Tags = tags
				}
				if f.Changed("apt-ids") {
					patch.APTGroupIDs = aptIDs
					if patch.APTGroupIDs == nil {
						patch.APTGroupIDs = []int64{}
					}
				}
				updated, err := iocs.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				fmt.Printf("%s IoC %s\n", green("Updated"), updated.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "indicator value")
	cmd.Flags().StringVar(&iocType, "type", "", "indicator type")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&source, "source", "", "source name")
	cmd.Flags().IntVar(&confidence, "confidence", 0, "confidence 0-100")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "replace tags")
	cmd.Flags().Int64SliceVar(&aptIDs, "apt-ids", nil, "replace attributed APT group ids")
	return cmd
}

func newIoCFindCmd() *cobra.Command {
	var iocType string
	cmd := &cobra.Command{
		Use:   "find <value>",
		Short: "Find indicators by exact value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				out, err := iocs.FindByValue(ctx, args[0], iocType)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out)
				}
				if len(out) == 0 {
					fmt.Println("no match")
					return nil
				}
				iocTable(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&iocType, "type", "", "restrict to this indicator type")
	return cmd
}

func newIoCLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <ioc-id> <apt-id>",
		Short: "Attribute an indicator to an APT group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			aptID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				updated, err := iocs.LinkToAPT(ctx, args[0], aptID)
				if err != nil {
					return err
				}
				fmt.Printf("%s IoC %s to APT group %d\n", green("Linked"), updated.ID, aptID)
				return nil
			})
		},
	}
}

func newIoCDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Retire an indicator without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				i, err := iocs.Deactivate(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s IoC %s (%s)\n", yellow("Deactivated"), i.ID, i.Value)
				return nil
			})
		},
	}
}

func newIoCRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an indicator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				if err := iocs.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("%s IoC %s\n", green("Removed"), args[0])
				return nil
			})
		},
	}
}

func newIoCSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count active indicators per type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				counts, err := iocs.SummaryByType(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(counts)
				}
				t := cli.NewTable("TYPE", "ACTIVE")
				for _, c := range counts {
					t.Row(c.Type, strconv.FormatInt(c.Count, 10))
				}
				t.Flush()
				return nil
			})
		},
	}
}

func newIoCTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List every tag in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				tags, err := iocs.UniqueTags(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(tags)
				}
				for _, tag := range tags {
					fmt.Println(tag)
				}
				return nil
			})
		},
	}
}
