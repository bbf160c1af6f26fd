package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/sirupsen/logrus"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// Every RouterOS RPC runs under a deadline; a router that stops answering
// mid-command must not stall a correlation cycle forever.
const defaultRPCTimeout = 30 * time.Second

// RouterOS speaks the MikroTik API protocol (plain TCP, default port
// 8728) through go-routeros.
type RouterOS struct {
	host      string
	cl        *routeros.Client
	run       func(sentence ...string) (*routeros.Reply, error)
	closeOnce sync.Once
	log       *logrus.Entry
}

// DialRouterOS connects and logs in. The dial honors ctx's deadline,
// capped at the default RPC timeout.
func DialRouterOS(ctx context.Context, host string, port int, username, password string) (*RouterOS, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	timeout := defaultRPCTimeout
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < timeout {
			timeout = until
		}
	}

	cl, err := routeros.DialTimeout(addr, username, password, timeout)
	if err != nil {
		// Login traps land here too; before a session exists they are
		// all connectivity as far as callers care.
		return nil, &ConnectionError{Host: host, Err: err}
	}
	return &RouterOS{
		host: host,
		cl:   cl,
		run:  cl.Run,
		log:  util.WithComponent("routeros").WithField("device", host),
	}, nil
}

// Close releases the API session. Safe to call more than once.
func (r *RouterOS) Close() {
	r.closeOnce.Do(func() {
		if r.cl != nil {
			r.cl.Close()
		}
	})
}

// exec runs one API sentence under the operation deadline. The client
// has no per-command timeout of its own, so a watchdog closes the
// session when the deadline passes, which unblocks the pending read.
func (r *RouterOS) exec(ctx context.Context, sentence ...string) (*routeros.Reply, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	type outcome struct {
		reply *routeros.Reply
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		reply, err := r.run(sentence...)
		ch <- outcome{reply, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, r.classify(sentence[0], out.err)
		}
		return out.reply, nil
	case <-ctx.Done():
		r.Close() // session is single-use; abandoning it is fine
		return nil, &ConnectionError{Host: r.host, Err: ctx.Err()}
	}
}

func (r *RouterOS) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultRPCTimeout)
}

// classify separates device-reported traps from transport failures.
func (r *RouterOS) classify(command string, err error) error {
	var trap *routeros.DeviceError
	if errors.As(err, &trap) {
		return &CommandError{Command: command, Err: err}
	}
	return &ConnectionError{Host: r.host, Err: err}
}

// SystemIdentity returns /system/identity (the router's name).
func (r *RouterOS) SystemIdentity(ctx context.Context) (map[string]string, error) {
	reply, err := r.exec(ctx, "/system/identity/print")
	if err != nil {
		return nil, err
	}
	return first(reply), nil
}

// SystemResource returns /system/resource (version, board-name, uptime).
func (r *RouterOS) SystemResource(ctx context.Context) (map[string]string, error) {
	reply, err := r.exec(ctx, "/system/resource/print")
	if err != nil {
		return nil, err
	}
	return first(reply), nil
}

// ConfigureSyslog ensures a remote logging action and a logging rule
// exist for the collector, updating them in place when they already do.
func (r *RouterOS) ConfigureSyslog(ctx context.Context, cfg SyslogConfig) error {
	cfg = cfg.withDefaults()
	actionName := cfg.NamePrefix + "Syslog"
	actionWords := []string{
		attr("name", actionName),
		attr("target", "remote"),
		attr("remote", cfg.TargetHost),
		attr("remote-port", strconv.Itoa(cfg.TargetPort)),
	}
	if err := r.ensure(ctx, "/system/logging/action",
		[]string{query("name", actionName)}, actionWords); err != nil {
		return err
	}

	rulePrefix := cfg.NamePrefix + "_rule"
	ruleWords := []string{
		attr("topics", cfg.Topics),
		attr("action", actionName),
		attr("prefix", rulePrefix),
	}
	if err := r.ensure(ctx, "/system/logging",
		[]string{query("action", actionName), query("prefix", rulePrefix)}, ruleWords); err != nil {
		return err
	}
	r.log.WithField("action", actionName).Debug("Syslog export configured")
	return nil
}

// ConfigureNetflow ensures a traffic-flow target exists for the collector
// and enables flow export on the requested interfaces.
func (r *RouterOS) ConfigureNetflow(ctx context.Context, cfg NetflowConfig) error {
	cfg = cfg.withDefaults()
	targetAddr := fmt.Sprintf("%s:%d", cfg.TargetHost, cfg.TargetPort)
	targetWords := []string{
		attr("address", targetAddr),
		attr("version", strconv.Itoa(cfg.Version)),
	}
	if err := r.ensure(ctx, "/ip/traffic-flow/target",
		[]string{query("address", targetAddr), query("version", strconv.Itoa(cfg.Version))}, targetWords); err != nil {
		return err
	}

	_, err := r.exec(ctx, "/ip/traffic-flow/set",
		attr("enabled", "yes"),
		attr("interfaces", cfg.Interfaces),
		attr("active-flow-timeout", cfg.ActiveTimeout),
		attr("inactive-flow-timeout", cfg.InactiveTimeout),
	)
	if err != nil {
		return err
	}
	r.log.WithField("target", targetAddr).Debug("Netflow export configured")
	return nil
}

// FirewallRules lists /ip/firewall/filter, optionally for one chain.
func (r *RouterOS) FirewallRules(ctx context.Context, chain string) ([]map[string]string, error) {
	words := []string{"/ip/firewall/filter/print"}
	if chain != "" {
		words = append(words, query("chain", chain))
	}
	reply, err := r.exec(ctx, words...)
	if err != nil {
		return nil, err
	}
	return maps(reply), nil
}

// BlockIP adds the ip to the address list, then ensures a single filter
// rule in the chain drops traffic whose source is on that list.
func (r *RouterOS) BlockIP(ctx context.Context, req BlockRequest) error {
	req = req.withDefaults()
	if req.Comment == "" {
		req.Comment = "Blocked by SIEM: " + req.IP
	}

	if err := r.addListEntry(ctx, req.ListName, req.IP, req.Comment); err != nil {
		return err
	}

	rule, err := r.findListRule(ctx, req.Chain, req.Action, req.ListName)
	if err != nil {
		return err
	}
	if rule != nil {
		r.log.WithFields(logrus.Fields{
			"list":    req.ListName,
			"rule_id": rule[".id"],
		}).Debug("Drop rule already present")
		return nil
	}
	return r.createListRule(ctx, req)
}

// addListEntry puts the ip on the list. The router rejecting a duplicate
// still counts as blocked.
func (r *RouterOS) addListEntry(ctx context.Context, listName, ip, comment string) error {
	_, err := r.exec(ctx, "/ip/firewall/address-list/add",
		attr("list", listName),
		attr("address", ip),
		attr("comment", comment),
	)
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "already have such entry") || strings.Contains(msg, "duplicate entry") {
			r.log.WithFields(logrus.Fields{"list": listName, "ip": ip}).Debug("IP already listed")
			return nil
		}
	}
	return err
}

func (r *RouterOS) findListRule(ctx context.Context, chain, action, listName string) (map[string]string, error) {
	reply, err := r.exec(ctx, "/ip/firewall/filter/print",
		query("chain", chain),
		query("action", action),
		query("src-address-list", listName),
	)
	if err != nil {
		return nil, err
	}
	if len(reply.Re) == 0 {
		return nil, nil
	}
	return reply.Re[0].Map, nil
}

func (r *RouterOS) createListRule(ctx context.Context, req BlockRequest) error {
	reply, err := r.exec(ctx, "/ip/firewall/filter/add",
		attr("chain", req.Chain),
		attr("action", req.Action),
		attr("src-address-list", req.ListName),
		attr("comment", req.CommentPrefix+req.ListName),
	)
	if err != nil {
		return err
	}
	ruleID := doneRet(reply)
	if ruleID == "" {
		return &CommandError{
			Command: "/ip/firewall/filter/add",
			Err:     errors.New("no rule id returned"),
		}
	}
	r.log.WithFields(logrus.Fields{"list": req.ListName, "rule_id": ruleID}).Info("Drop rule created")

	if !req.PlaceAtTop {
		return nil
	}
	// Position 0 so the drop fires before any permissive rule.
	_, err = r.exec(ctx, "/ip/firewall/filter/move",
		attr("numbers", ruleID),
		attr("destination", "0"),
	)
	return err
}

// UnblockIP removes every list entry matching (list, ip) and verifies the
// removal with a re-query. Entries that were never present are already
// unblocked. Entries that survive removal make the operation fail.
func (r *RouterOS) UnblockIP(ctx context.Context, listName, ip string) error {
	entries, err := r.listEntries(ctx, listName, ip)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		r.log.WithFields(logrus.Fields{"list": listName, "ip": ip}).Debug("IP was not listed")
		r.warnIfRuleMissing(ctx, listName)
		return nil
	}

	for _, entry := range entries {
		id := entry[".id"]
		if id == "" {
			r.log.WithField("entry", entry).Warn("List entry has no id; cannot remove")
			continue
		}
		if _, err := r.exec(ctx, "/ip/firewall/address-list/remove", attr(".id", id)); err != nil {
			return err
		}
	}

	remaining, err := r.listEntries(ctx, listName, ip)
	if err != nil {
		return err
	}
	r.warnIfRuleMissing(ctx, listName)
	if len(remaining) > 0 {
		return &CommandError{
			Command: "/ip/firewall/address-list/remove",
			Err:     fmt.Errorf("%d entries for %s still present in list %s after removal", len(remaining), ip, listName),
		}
	}
	r.log.WithFields(logrus.Fields{"list": listName, "ip": ip}).Info("IP removed from list")
	return nil
}

func (r *RouterOS) listEntries(ctx context.Context, listName, ip string) ([]map[string]string, error) {
	reply, err := r.exec(ctx, "/ip/firewall/address-list/print",
		query("list", listName),
		query("address", ip),
	)
	if err != nil {
		return nil, err
	}
	return maps(reply), nil
}

// warnIfRuleMissing reports a list without an enforcing drop rule. The
// list entry is gone either way, so this never fails the operation.
func (r *RouterOS) warnIfRuleMissing(ctx context.Context, listName string) {
	rule, err := r.findListRule(ctx, "forward", "drop", listName)
	if err != nil {
		r.log.WithError(err).Warn("Could not check for the enforcing drop rule")
		return
	}
	if rule == nil {
		r.log.WithField("list", listName).Warn("No drop rule references this address list")
	}
}

// ensure finds an object by query and sets it, or adds it when absent.
func (r *RouterOS) ensure(ctx context.Context, path string, queries, attrs []string) error {
	findWords := append([]string{path + "/print"}, queries...)
	reply, err := r.exec(ctx, findWords...)
	if err != nil {
		return err
	}

	existing := first(reply)
	if id := existing[".id"]; id != "" {
		setWords := append([]string{path + "/set", attr(".id", id)}, attrs...)
		_, err = r.exec(ctx, setWords...)
		return err
	}
	addWords := append([]string{path + "/add"}, attrs...)
	_, err = r.exec(ctx, addWords...)
	return err
}

func attr(key, value string) string  { return "=" + key + "=" + value }
func query(key, value string) string { return "?" + key + "=" + value }

// first returns the first result sentence's attributes, or an empty map.
func first(reply *routeros.Reply) map[string]string {
	if reply == nil || len(reply.Re) == 0 {
		return map[string]string{}
	}
	return reply.Re[0].Map
}

func maps(reply *routeros.Reply) []map[string]string {
	if reply == nil {
		return nil
	}
	out := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		out = append(out, re.Map)
	}
	return out
}

// doneRet returns the id the router assigned to a freshly added object.
func doneRet(reply *routeros.Reply) string {
	if reply == nil || reply.Done == nil {
		return ""
	}
	return reply.Done.Map["ret"]
}
