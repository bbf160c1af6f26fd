// Package device manages network endpoints: connector sessions to the
// router API, enforcement operations (address-list blocks), telemetry
// export configuration, and the status lifecycle of each registered
// device. Connectors are single-use: one dial per operation, released on
// every exit path.
package device

import (
	"context"
	"fmt"
)

// Connector is one live session to a managed device. Implementations are
// not safe for concurrent use; acquire a fresh one per operation and
// Close it when done.
type Connector interface {
	// SystemIdentity returns the device's identity attributes (name).
	SystemIdentity(ctx context.Context) (map[string]string, error)
	// SystemResource returns hardware and OS attributes (version,
	// board-name, uptime).
	SystemResource(ctx context.Context) (map[string]string, error)
	// ConfigureSyslog points the device's remote logging at a collector.
	// Idempotent: existing actions and rules are updated in place.
	ConfigureSyslog(ctx context.Context, cfg SyslogConfig) error
	// ConfigureNetflow points the device's flow export at a collector
	// and enables it. Idempotent like ConfigureSyslog.
	ConfigureNetflow(ctx context.Context, cfg NetflowConfig) error
	// FirewallRules lists filter rules, optionally restricted to a chain.
	FirewallRules(ctx context.Context, chain string) ([]map[string]string, error)
	// BlockIP adds the ip to an address list and ensures a drop rule
	// references that list. Re-blocking an already listed ip succeeds.
	BlockIP(ctx context.Context, req BlockRequest) error
	// UnblockIP removes the ip from the address list and verifies the
	// removal. An ip that was never listed is already unblocked.
	UnblockIP(ctx context.Context, listName, ip string) error
	// Close releases the session. Safe to call more than once.
	Close()
}

// SyslogConfig targets the device's remote logging at a syslog collector.
type SyslogConfig struct {
	TargetHost string
	TargetPort int
	// NamePrefix derives the logging action and rule names on the
	// device, so several collectors can coexist.
	NamePrefix string
	Topics     string
}

func (c SyslogConfig) withDefaults() SyslogConfig {
	if c.TargetPort == 0 {
		c.TargetPort = 514
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "siem"
	}
	if c.Topics == "" {
		c.Topics = "!debug"
	}
	return c
}

// NetflowConfig targets the device's traffic-flow export at a collector.
type NetflowConfig struct {
	TargetHost      string
	TargetPort      int
	Interfaces      string
	Version         int
	ActiveTimeout   string
	InactiveTimeout string
}

func (c NetflowConfig) withDefaults() NetflowConfig {
	if c.TargetPort == 0 {
		c.TargetPort = 2055
	}
	if c.Interfaces == "" {
		c.Interfaces = "all"
	}
	if c.Version == 0 {
		c.Version = 9
	}
	if c.ActiveTimeout == "" {
		c.ActiveTimeout = "1m"
	}
	if c.InactiveTimeout == "" {
		c.InactiveTimeout = "15s"
	}
	return c
}

// BlockRequest describes one address-list block.
type BlockRequest struct {
	ListName string
	IP       string
	Comment  string
	// Chain, Action, and CommentPrefix shape the firewall rule that
	// enforces the list; PlaceAtTop moves a freshly created rule to
	// position 0 so it fires before permissive rules.
	Chain         string
	Action        string
	CommentPrefix string
	PlaceAtTop    bool
}

func (r BlockRequest) withDefaults() BlockRequest {
	if r.Chain == "" {
		r.Chain = "forward"
	}
	if r.Action == "" {
		r.Action = "drop"
	}
	if r.CommentPrefix == "" {
		r.CommentPrefix = "SIEM_auto_block_for_"
	}
	return r
}

// ConnectionError is a transport-level failure: dial, login, or a timed
// out or broken session. The device may be down or unreachable.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device %s unreachable: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError is a device-reported failure: the command reached the
// device and the device refused it.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("device rejected %s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
