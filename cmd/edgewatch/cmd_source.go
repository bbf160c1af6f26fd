package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/cli"
	"github.com/edgewatch/edgewatch/pkg/indicator"
	"github.com/edgewatch/edgewatch/pkg/store"
)

func newSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage IoC sources",
		Long: `Manage registered threat feeds. Fetching a source loads its feed, creates
any APT groups the feed names, and stores the indicators through the
indicator service. Internal sources hold manually curated IoCs and are
never fetched.

  edgewatch source add --name "Quarterly APT report" --type mock_apt_report \
    --url /var/lib/edgewatch/feeds/apt_report.json
  edgewatch source fetch 1`,
	}
	cmd.AddCommand(
		newSourceListCmd(),
		newSourceAddCmd(),
		newSourceSetCmd(),
		newSourceRemoveCmd(),
		newSourceFetchCmd(),
	)
	return cmd
}

func newSourceListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List IoC sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				sources, err := st.Sources.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(sources)
				}
				if len(sources) == 0 {
					fmt.Println("no sources")
					return nil
				}
				t := cli.NewTable("ID", "NAME", "TYPE", "ENABLED", "LAST FETCHED", "URL")
				for _, s := range sources {
					t.Row(
						strconv.FormatInt(s.ID, 10),
						s.Name,
						s.SourceType,
						formatBool(s.IsEnabled),
						formatTime(s.LastFetched),
						s.URL,
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

type sourceInput struct {
	name, description, sourceType, url string
}

func sourceFlags(cmd *cobra.Command, in *sourceInput) {
	cmd.Flags().StringVar(&in.name, "name", "", "source name")
	cmd.Flags().StringVar(&in.description, "description", "", "description")
	cmd.Flags().StringVar(&in.sourceType, "type", "", "source type (misp|opencti|stix_feed|csv_url|internal|mock_apt_report)")
	cmd.Flags().StringVar(&in.url, "url", "", "feed location (file path or URL)")
}

func (in *sourceInput) apply(cmd *cobra.Command, s *store.IoCSource) {
	f := cmd.Flags()
	if f.Changed("name") {
		s.Name = in.name
	}
	if f.Changed("description") {
		s.Description = in.description
	}
	if f.Changed("type") {
		s.SourceType = in.sourceType
	}
	if f.Changed("url") {
		s.URL = in.url
	}
}

func newSourceAddCmd() *cobra.Command {
	var in sourceInput
	var disabled bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an IoC source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				s := &store.IoCSource{IsEnabled: !disabled}
				in.apply(cmd, s)
				created, err := st.Sources.Create(ctx, s)
				if err != nil {
					return err
				}
				fmt.Printf("%s source %d (%s)\n", green("Created"), created.ID, created.Name)
				return nil
			})
		},
	}
	sourceFlags(cmd, &in)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create disabled")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newSourceSetCmd() *cobra.Command {
	var in sourceInput
	var enabled bool
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update source fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				s, err := st.Sources.Get(ctx, id)
				if err != nil {
					return err
				}
				in.apply(cmd, s)
				if cmd.Flags().Changed("enabled") {
					s.IsEnabled = enabled
				}
				if _, err := st.Sources.Update(ctx, s); err != nil {
					return err
				}
				fmt.Printf("%s source %d\n", green("Updated"), id)
				return nil
			})
		},
	}
	sourceFlags(cmd, &in)
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enabled flag")
	return cmd
}

func newSourceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := st.Sources.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Printf("%s source %d\n", green("Removed"), id)
				return nil
			})
		},
	}
}

func newSourceFetchCmd() *cobra.Command {
	var feedPath string
	cmd := &cobra.Command{
		Use:   "fetch <id>",
		Short: "Pull indicators from a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withIndicators(func(ctx context.Context, st *store.Store, iocs *indicator.Service) error {
				path := feedPath
				if path == "" {
					src, err := st.Sources.Get(ctx, id)
					if err != nil {
						return err
					}
					path = src.URL
				}

				fetcher := indicator.NewFetcher(st.Sources, st.APTGroups, iocs, path)
				result, err := fetcher.Fetch(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(result)
				}
				fmt.Printf("%s: %s\n", result.Status, result.Message)
				if result.Added > 0 || result.Failed > 0 {
					fmt.Printf("  added:  %d\n", result.Added)
					if result.Failed > 0 {
						fmt.Printf("  failed: %s\n", red(strconv.Itoa(result.Failed)))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&feedPath, "feed", "", "feed file (default: the source's url)")
	return cmd
}
