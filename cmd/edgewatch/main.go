// Edgewatch — SIEM server for network-edge devices
//
// edgewatch ingests syslog and NetFlow from MikroTik routers, stores the
// normalized events in Elasticsearch, correlates them against threat
// intelligence, and answers offences with automated response pipelines
// (address-list blocks on the routers themselves, notifications, tickets).
//
// Usage:
//
//	edgewatch serve                     Run listeners, correlation and metrics
//	edgewatch migrate                   Apply database migrations
//	edgewatch correlate run             Run one correlation cycle
//	edgewatch respond --offence <id>    Run the response pipeline for an offence
//	edgewatch device <verb>             Manage routers (add, check, block, ...)
//	edgewatch rule|ioc|apt|source ...   Manage detection content
//	edgewatch action|pipeline ...       Manage response content
//	edgewatch offence <verb>            Triage and dashboards
//	edgewatch audit list                Response audit trail
//	edgewatch health                    Probe the backing services
//
// Configuration comes from /etc/edgewatch/config.yaml (override with
// --config or EDGEWATCH_CONFIG) plus environment variables; see pkg/settings.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/audit"
	"github.com/edgewatch/edgewatch/pkg/cli"
	"github.com/edgewatch/edgewatch/pkg/settings"
	"github.com/edgewatch/edgewatch/pkg/util"
	"github.com/edgewatch/edgewatch/pkg/version"
)

var (
	cfgPath    string
	verbose    bool
	jsonOutput bool

	cfg *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "edgewatch",
	Short:             "SIEM server for network-edge devices",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Edgewatch ingests syslog and NetFlow from edge routers, correlates the
events against threat intelligence, and answers offences with response
pipelines — including blocking addresses on the routers themselves.

  edgewatch serve
  edgewatch device add --name edge-r1 --host 192.0.2.1
  edgewatch offence list --status new`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipsSetup(cmd) {
			return nil
		}

		var err error
		if cfgPath != "" {
			cfg, err = settings.LoadFrom(cfgPath)
		} else {
			cfg, err = settings.Load()
		}
		if err != nil {
			return err
		}

		if verbose {
			util.SetLogLevel("debug")
		} else if err := util.SetLogLevel(cfg.Log.Level); err != nil {
			return err
		}
		if cfg.Log.JSON {
			util.SetJSONFormat()
		}
		if cfg.Log.File != "" {
			util.SetLogFile(cfg.Log.File, 100, 5) // 100 MB, 5 backups
		}

		if cfg.Audit.Path != "" {
			auditLogger, err := audit.NewFileLogger(cfg.Audit.Path, audit.RotationConfig{
				MaxSize:    cfg.Audit.MaxSize,
				MaxBackups: cfg.Audit.MaxBackups,
			})
			if err != nil {
				util.Warnf("Could not initialize audit logging: %v", err)
			} else {
				audit.SetDefaultLogger(auditLogger)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default /etc/edgewatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON output")

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newCorrelateCmd(),
		newRespondCmd(),
		newDeviceCmd(),
		newRuleCmd(),
		newIoCCmd(),
		newAPTCmd(),
		newSourceCmd(),
		newActionCmd(),
		newPipelineCmd(),
		newOffenceCmd(),
		newAuditCmd(),
		newHealthCmd(),
		newGenKeyCmd(),
		newVersionCmd(),
	)
}

// skipsSetup reports whether cmd (or an ancestor) runs without settings.
func skipsSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "genkey", "completion":
			return true
		}
	}
	return false
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if version.Version == "dev" {
				fmt.Println("edgewatch dev build (use 'make build' for version info)")
			} else {
				fmt.Printf("edgewatch %s (%s)\n", version.Version, version.GitCommit)
			}
		},
	}
}

// Color helpers — delegate to pkg/cli
func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
