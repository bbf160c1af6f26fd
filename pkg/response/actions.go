package response

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/pkg/indicator"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

const (
	// DefaultBlockList is the device address list used when a block_ip
	// step does not name one.
	DefaultBlockList = "siem_blocked_ips"

	// DefaultEmailRecipient receives alert mail when a send_email step
	// does not name a recipient.
	DefaultEmailRecipient = "admin@example.com"

	// DefaultTicketQueue receives tickets when a create_ticket step does
	// not name a queue.
	DefaultTicketQueue = "soc"
)

const (
	defaultEmailSubject = "SIEM Alert: {offence.title}"
	defaultEmailBody    = "Offence details:\n" +
		"ID: {offence.id}\n" +
		"Severity: {offence.severity}\n" +
		"Description: {offence.description}\n" +
		"Triggered by rule: {offence.correlation_rule_id}"
)

// stepResult is what one executed step reports back: the target it acted
// on, the device it went through, and how it ended.
type stepResult struct {
	target string
	device string
	err    error
}

func (o *Orchestrator) dispatch(ctx context.Context, off *store.Offence, action *store.ResponseAction, params map[string]interface{}) stepResult {
	switch action.Type {
	case store.ActionBlockIP:
		return o.runBlockIP(ctx, off, params)
	case store.ActionUnblockIP:
		return o.runUnblockIP(ctx, off, params)
	case store.ActionSendEmail:
		return o.runSendEmail(ctx, off, params)
	case store.ActionCreateTicket:
		return o.runCreateTicket(ctx, off, params)
	case store.ActionIsolateHost:
		return o.runIsolateHost(ctx, off, params)
	}
	return stepResult{err: fmt.Errorf("%w: unsupported action type %q", util.ErrInvalidConfig, action.Type)}
}

func (o *Orchestrator) runBlockIP(ctx context.Context, off *store.Offence, params map[string]interface{}) stepResult {
	if o.device == nil {
		return stepResult{err: fmt.Errorf("%w: no device actor wired", util.ErrPreconditionFailed)}
	}
	ip := blockTarget(off)
	if ip == "" {
		return stepResult{err: fmt.Errorf("%w: offence carries no blockable ip", util.ErrPreconditionFailed)}
	}
	deviceID, ok := intParam(params, "device_id")
	if !ok {
		return stepResult{target: ip, err: fmt.Errorf("%w: action params carry no device_id", util.ErrPreconditionFailed)}
	}
	listName := stringParam(params, "list_name", DefaultBlockList)
	comment := stringParam(params, "comment", "")
	if comment == "" {
		comment = fmt.Sprintf("Blocked by SIEM Offence ID %d: %s", off.ID, util.Truncate(off.Title, 50))
	}
	res := stepResult{target: ip, device: strconv.FormatInt(deviceID, 10)}
	res.err = o.device.BlockIP(ctx, deviceID, listName, ip, comment)
	return res
}

func (o *Orchestrator) runUnblockIP(ctx context.Context, off *store.Offence, params map[string]interface{}) stepResult {
	if o.device == nil {
		return stepResult{err: fmt.Errorf("%w: no device actor wired", util.ErrPreconditionFailed)}
	}
	ip := blockTarget(off)
	if ip == "" {
		return stepResult{err: fmt.Errorf("%w: offence carries no ip to unblock", util.ErrPreconditionFailed)}
	}
	deviceID, ok := intParam(params, "device_id")
	if !ok {
		return stepResult{target: ip, err: fmt.Errorf("%w: action params carry no device_id", util.ErrPreconditionFailed)}
	}
	listName := stringParam(params, "list_name", DefaultBlockList)
	res := stepResult{target: ip, device: strconv.FormatInt(deviceID, 10)}
	res.err = o.device.UnblockIP(ctx, deviceID, listName, ip)
	return res
}

func (o *Orchestrator) runSendEmail(ctx context.Context, off *store.Offence, params map[string]interface{}) stepResult {
	if o.notifier == nil {
		return stepResult{err: fmt.Errorf("%w: no email notifier wired", util.ErrPreconditionFailed)}
	}
	tctx := templateContext(off)
	recipient := stringParam(params, "recipient", DefaultEmailRecipient)
	subject := stringParam(params, "subject_template", "")
	if subject == "" {
		subject = util.RenderTemplate(defaultEmailSubject, tctx)
	}
	body := stringParam(params, "body_template", "")
	if body == "" {
		body = util.RenderTemplate(defaultEmailBody, tctx)
	}
	return stepResult{target: recipient, err: o.notifier.SendEmail(ctx, recipient, subject, body)}
}

func (o *Orchestrator) runCreateTicket(ctx context.Context, off *store.Offence, params map[string]interface{}) stepResult {
	if o.ticketer == nil {
		return stepResult{err: fmt.Errorf("%w: no ticketer wired", util.ErrPreconditionFailed)}
	}
	queue := stringParam(params, "queue", DefaultTicketQueue)
	summary := stringParam(params, "summary", off.Title)
	description := stringParam(params, "description", off.Description)
	return stepResult{target: queue, err: o.ticketer.CreateTicket(ctx, queue, summary, description)}
}

func (o *Orchestrator) runIsolateHost(ctx context.Context, off *store.Offence, params map[string]interface{}) stepResult {
	if o.isolator == nil {
		return stepResult{err: fmt.Errorf("%w: no isolator wired", util.ErrPreconditionFailed)}
	}
	host := stringParam(params, "host", "")
	if host == "" {
		host, _ = off.TriggeringEventSummary["hostname"].(string)
	}
	if host == "" {
		return stepResult{err: fmt.Errorf("%w: offence carries no host to isolate", util.ErrPreconditionFailed)}
	}
	return stepResult{target: host, err: o.isolator.IsolateHost(ctx, host)}
}

// blockTarget picks the ip an enforcement step acts on. An ip-typed
// matched IoC wins; otherwise the triggering event's source address, then
// its destination address.
func blockTarget(off *store.Offence) string {
	if t, _ := off.MatchedIoCDetails["type"].(string); t == indicator.TypeIPv4 || t == indicator.TypeIPv6 {
		if v, _ := off.MatchedIoCDetails["value"].(string); v != "" {
			return v
		}
	}
	for _, key := range []string{"source_ip", "destination_ip"} {
		if v, _ := off.TriggeringEventSummary[key].(string); v != "" {
			return v
		}
	}
	return ""
}

// effectiveParams merges the action's defaults with the step's template,
// the template winning, then substitutes offence placeholders in every
// string value.
func effectiveParams(action *store.ResponseAction, step store.PipelineStep, off *store.Offence) map[string]interface{} {
	params := make(map[string]interface{}, len(action.DefaultParams)+len(step.ParamsTemplate))
	for k, v := range action.DefaultParams {
		params[k] = v
	}
	for k, v := range step.ParamsTemplate {
		params[k] = v
	}
	tctx := templateContext(off)
	for k, v := range params {
		if s, ok := v.(string); ok {
			params[k] = util.RenderTemplate(s, tctx)
		}
	}
	return params
}

// templateContext exposes the offence to placeholder substitution, e.g.
// {offence.matched_ioc_details.value} or {offence.severity}. JSONMap
// fields are converted to plain maps so dotted paths descend into them.
func templateContext(off *store.Offence) map[string]interface{} {
	fields := map[string]interface{}{
		"id":                       off.ID,
		"title":                    off.Title,
		"description":              off.Description,
		"severity":                 off.Severity,
		"status":                   off.Status,
		"detected_at":              off.DetectedAt.Format(time.RFC3339),
		"triggering_event_summary": map[string]interface{}(off.TriggeringEventSummary),
		"matched_ioc_details":      map[string]interface{}(off.MatchedIoCDetails),
	}
	if off.CorrelationRuleID != nil {
		fields["correlation_rule_id"] = *off.CorrelationRuleID
	}
	return map[string]interface{}{"offence": fields}
}

// intParam reads a numeric parameter that may arrive as a JSON float64, a
// Go integer, or a numeric string.
func intParam(params map[string]interface{}, key string) (int64, bool) {
	switch v := params[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return fallback
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

// auditParams flattens resolved parameters for the audit trail.
func auditParams(params map[string]interface{}) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
