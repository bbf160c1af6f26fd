package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/cli"
	"github.com/edgewatch/edgewatch/pkg/device"
	"github.com/edgewatch/edgewatch/pkg/store"
)

func newDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage edge routers",
		Long: `Manage the routers edgewatch watches and defends. Credentials are
sealed before they reach the database; router-facing verbs (check,
configure-*, block, unblock) open a fresh API session per operation.

  edgewatch device add --name edge-r1 --host 192.0.2.1 --username siem-svc
  edgewatch device configure-syslog 1 --target 198.51.100.10
  edgewatch device block 1 --ip 203.0.113.9`,
	}

	cmd.AddCommand(
		newDeviceListCmd(),
		newDeviceShowCmd(),
		newDeviceAddCmd(),
		newDeviceSetCmd(),
		newDeviceSetPasswordCmd(),
		newDeviceEnableCmd(true),
		newDeviceEnableCmd(false),
		newDeviceRemoveCmd(),
		newDeviceCheckCmd(),
		newDeviceIdentityCmd(),
		newDeviceConfigureSyslogCmd(),
		newDeviceConfigureNetflowCmd(),
		newDeviceRulesCmd(),
		newDeviceBlockCmd(),
		newDeviceUnblockCmd(),
	)
	return cmd
}

func newDeviceListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				devices, err := st.Devices.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(devices)
				}
				if len(devices) == 0 {
					fmt.Println("no devices registered")
					return nil
				}
				t := cli.NewTable("ID", "NAME", "HOST", "STATUS", "ENABLED", "OS", "SYSLOG", "NETFLOW", "LAST SEEN")
				for _, d := range devices {
					t.Row(
						strconv.FormatInt(d.ID, 10),
						d.Name,
						fmt.Sprintf("%s:%d", d.Host, d.Port),
						cli.DeviceStatus(d.Status),
						formatBool(d.IsEnabled),
						d.OSVersion,
						formatBool(d.SyslogConfiguredBySIEM),
						formatBool(d.NetflowConfiguredBySIEM),
						formatTime(d.LastSuccessfulConnection),
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

func newDeviceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				d, err := st.Devices.Get(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(d)
				}
				fmt.Printf("Device %d: %s\n", d.ID, d.Name)
				fmt.Printf("  address:    %s:%d (%s)\n", d.Host, d.Port, d.DeviceType)
				fmt.Printf("  username:   %s\n", d.Username)
				fmt.Printf("  status:     %s (enabled: %s)\n", cli.DeviceStatus(d.Status), formatBool(d.IsEnabled))
				fmt.Printf("  os version: %s\n", d.OSVersion)
				fmt.Printf("  syslog configured:  %s\n", formatBool(d.SyslogConfiguredBySIEM))
				fmt.Printf("  netflow configured: %s\n", formatBool(d.NetflowConfiguredBySIEM))
				fmt.Printf("  last connection:    %s\n", formatTime(d.LastSuccessfulConnection))
				fmt.Printf("  last status update: %s\n", formatTime(d.LastStatusUpdate))
				return nil
			})
		},
	}
}

func newDeviceAddCmd() *cobra.Command {
	var (
		name, host, username, password, deviceType string
		port                                       int
		disabled                                   bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a device",
		Long: `Register a device. The password is prompted when not given and is
sealed with the configured encryption key before storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sealer, err := newSealer()
			if err != nil {
				return err
			}
			if password == "" {
				password, err = promptPassword("Device password: ")
				if err != nil {
					return err
				}
			}
			sealed, err := sealer.Seal(password)
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				d, err := st.Devices.Create(ctx, &store.Device{
					Name:              name,
					Host:              host,
					Port:              port,
					Username:          username,
					EncryptedPassword: sealed,
					DeviceType:        deviceType,
					IsEnabled:         !disabled,
				})
				if err != nil {
					return err
				}
				fmt.Printf("%s device %d (%s)\n", green("Registered"), d.ID, d.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "device name (required)")
	cmd.Flags().StringVar(&host, "host", "", "device address (required, unique)")
	cmd.Flags().IntVar(&port, "port", 8728, "API port")
	cmd.Flags().StringVar(&username, "username", "", "API username (required)")
	cmd.Flags().StringVar(&password, "password", "", "API password (prompted when empty)")
	cmd.Flags().StringVar(&deviceType, "type", store.DeviceTypeMikroTik, "device type")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "register disabled")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("username")
	return cmd
}

func newDeviceSetCmd() *cobra.Command {
	var (
		name, host, username string
		port                 int
	)
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update device fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				d, err := st.Devices.Get(ctx, id)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("name") {
					d.Name = name
				}
				if cmd.Flags().Changed("host") {
					d.Host = host
				}
				if cmd.Flags().Changed("port") {
					d.Port = port
				}
				if cmd.Flags().Changed("username") {
					d.Username = username
				}
				if _, err := st.Devices.Update(ctx, d); err != nil {
					return err
				}
				fmt.Printf("%s device %d\n", green("Updated"), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "device name")
	cmd.Flags().StringVar(&host, "host", "", "device address")
	cmd.Flags().IntVar(&port, "port", 0, "API port")
	cmd.Flags().StringVar(&username, "username", "", "API username")
	return cmd
}

func newDeviceSetPasswordCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "set-password <id>",
		Short: "Replace a device's sealed password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sealer, err := newSealer()
			if err != nil {
				return err
			}
			if password == "" {
				password, err = promptPassword("New device password: ")
				if err != nil {
					return err
				}
			}
			sealed, err := sealer.Seal(password)
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := st.Devices.SetPassword(ctx, id, sealed); err != nil {
					return err
				}
				fmt.Printf("%s password for device %d\n", green("Updated"), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when empty)")
	return cmd
}

func newDeviceEnableCmd(enable bool) *cobra.Command {
	use, verb := "enable <id>", "Enabled"
	short := "Enable a device"
	if !enable {
		use, verb = "disable <id>", "Disabled"
		short = "Disable a device (status resets to unknown)"
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
				if err := st.Devices.SetEnabled(ctx, id, enable); err != nil {
					return err
				}
				if !enable {
					// A disabled device is no longer being observed, so any
					// recorded reachability is stale.
					if err := st.Devices.UpdateStatus(ctx, id, store.DeviceUnknown); err != nil {
						return err
					}
				}
				fmt.Printf("%s device %d\n", green(verb), id)
				return nil
			})
		},
	}
}

func newDeviceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a device registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := st.Devices.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Printf("%s device %d\n", green("Removed"), id)
				return nil
			})
		},
	}
}

func newDeviceCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <id>",
		Short: "Probe a device and record its status",
		Long: `Connect to the device, probe /system/resource, and record the result.
Works on disabled devices too — an unreachable router is a finding, not
an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDevices(func(ctx context.Context, st *store.Store, svc *device.Service) error {
				d, err := svc.CheckStatus(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(d)
				}
				fmt.Printf("Device %d (%s): %s", d.ID, d.Name, cli.DeviceStatus(d.Status))
				if d.OSVersion != "" {
					fmt.Printf(", RouterOS %s", d.OSVersion)
				}
				fmt.Println()
				return nil
			})
		},
	}
}

func newDeviceIdentityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity <id>",
		Short: "Show the router's system identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDevices(func(ctx context.Context, st *store.Store, svc *device.Service) error {
				ident, err := svc.Identity(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(ident)
				}
				for k, v := range ident {
					fmt.Printf("%s: %s\n", k, v)
				}
				return nil
			})
		},
	}
}

func newDeviceConfigureSyslogCmd() *cobra.Command {
	var (
		target, prefix, topics string
		port                   int
	)
	cmd := &cobra.Command{
		Use:   "configure-syslog <id>",
		Short: "Point the device's remote logging at the collector",
		Long: `Create or update the device's remote logging action and rule so its
syslog stream reaches the edgewatch collector. Safe to run repeatedly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDevices(func(ctx context.Context, st *store.Store, svc *device.Service) error {
				err := svc.ConfigureSyslog(ctx, id, device.SyslogConfig{
					TargetHost: target,
					TargetPort: port,
					NamePrefix: prefix,
					Topics:     topics,
				})
				if err != nil {
					return err
				}
				fmt.Printf("%s syslog export on device %d -> %s\n", green("Configured"), id, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "collector address the router should log to (required)")
	cmd.Flags().IntVar(&port, "port", 514, "collector syslog port")
	cmd.Flags().StringVar(&prefix, "prefix", "", "name prefix for the logging objects (default siem)")
	cmd.Flags().StringVar(&topics, "topics", "", "RouterOS logging topics (default !debug)")
	cmd.MarkFlagRequired("target")
	return cmd
}

func newDeviceConfigureNetflowCmd() *cobra.Command {
	var (
		target, interfaces, activeTimeout, inactiveTimeout string
		port, version                                      int
	)
	cmd := &cobra.Command{
		Use:   "configure-netflow <id>",
		Short: "Point the device's flow export at the collector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDevices(func(ctx context.Context, st *store.Store, svc *device.Service) error {
				err := svc.ConfigureNetflow(ctx, id, device.NetflowConfig{
					TargetHost:      target,
					TargetPort:      port,
					Interfaces:      interfaces,
					Version:         version,
					ActiveTimeout:   activeTimeout,
					InactiveTimeout: inactiveTimeout,
				})
				if err != nil {
					return err
				}
				fmt.Printf("%s netflow export on device %d -> %s\n", green("Configured"), id, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "collector address for flow export (required)")
	cmd.Flags().IntVar(&port, "port", 2055, "collector netflow port")
	cmd.Flags().StringVar(&interfaces, "interfaces", "", "interfaces to export flows for (default all)")
	cmd.Flags().IntVar(&version, "version", 9, "netflow version")
	cmd.Flags().StringVar(&activeTimeout, "active-timeout", "", "active flow timeout (default 1m)")
	cmd.Flags().StringVar(&inactiveTimeout, "inactive-timeout", "", "inactive flow timeout (default 15s)")
	cmd.MarkFlagRequired("target")
	return cmd
}

func newDeviceRulesCmd() *cobra.Command {
	var chain string
	cmd := &cobra.Command{
		Use:   "rules <id>",
		Short: "List the device's firewall filter rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDevices(func(ctx context.Context, st *store.Store, svc *device.Service) error {
				rules, err := svc.FirewallRules(ctx, id, chain)
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
				t := cli.NewTable("ID", "CHAIN", "ACTION", "SRC LIST", "COMMENT")
				for _, r := range rules {
					t.Row(r[".id"], r["chain"], r["action"], r["src-address-list"], r["comment"])
				}
				t.Flush()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "filter by chain (e.g. forward)")
	return cmd
}

func newDeviceBlockCmd() *cobra.Command {
	var ip, list, comment string
	cmd := &cobra.Command{
		Use:   "block <id>",
		Short: "Block an address on the device",
		Long: `Add the address to the device's block list and ensure a drop rule
enforces the list. Blocking an already-blocked address succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if ip == "" {
				return fmt.Errorf("--ip is required")
			}
			return withDevices(func(ctx context.Context, st *store.Store, svc *device.Service) error {
				if err := svc.BlockIP(ctx, id, list, ip, comment); err != nil {
					return err
				}
				fmt.Printf("%s %s on device %d (list %s)\n", green("Blocked"), ip, id, list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "address to block (required)")
	cmd.Flags().StringVar(&list, "list", "siem_blocked_ips", "address list")
	cmd.Flags().StringVar(&comment, "comment", "", "list entry comment")
	return cmd
}

func newDeviceUnblockCmd() *cobra.Command {
	var ip, list string
	cmd := &cobra.Command{
		Use:   "unblock <id>",
		Short: "Remove an address from the device's block list",
		Long: `Remove the address from the block list and verify it is gone. An
address that was never listed is already unblocked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if ip == "" {
				return fmt.Errorf("--ip is required")
			}
			return withDevices(func(ctx context.Context, st *store.Store, svc *device.Service) error {
				if err := svc.UnblockIP(ctx, id, list, ip); err != nil {
					return err
				}
				fmt.Printf("%s %s on device %d (list %s)\n", green("Unblocked"), ip, id, list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "address to unblock (required)")
	cmd.Flags().StringVar(&list, "list", "siem_blocked_ips", "address list")
	return cmd
}
