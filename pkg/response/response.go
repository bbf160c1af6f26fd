// Package response executes response pipelines against offences raised by
// the correlation engine. A pipeline is an ordered list of steps, each
// referencing a response action; steps run best-effort, so one failing
// block never stops the email behind it.
package response

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgewatch/edgewatch/pkg/audit"
	"github.com/edgewatch/edgewatch/pkg/metrics"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

// Step outcomes as counted by metrics.ResponseSteps.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// PipelineSource locates the pipeline bound to a correlation rule.
type PipelineSource interface {
	FindForRule(ctx context.Context, ruleID int64) (*store.ResponsePipeline, error)
}

// ActionSource loads the response actions referenced by pipeline steps.
type ActionSource interface {
	Get(ctx context.Context, id int64) (*store.ResponseAction, error)
}

// DeviceActor carries out enforcement on a managed device.
type DeviceActor interface {
	BlockIP(ctx context.Context, deviceID int64, listName, ip, comment string) error
	UnblockIP(ctx context.Context, deviceID int64, listName, ip string) error
}

// Notifier delivers alert mail for send_email steps.
type Notifier interface {
	SendEmail(ctx context.Context, recipient, subject, body string) error
}

// Ticketer opens incident tickets for create_ticket steps.
type Ticketer interface {
	CreateTicket(ctx context.Context, queue, summary, description string) error
}

// Isolator cuts a host off the network for isolate_host steps.
type Isolator interface {
	IsolateHost(ctx context.Context, host string) error
}

// Orchestrator runs the pipeline matching an offence's correlation rule.
type Orchestrator struct {
	pipelines PipelineSource
	actions   ActionSource
	device    DeviceActor
	notifier  Notifier
	ticketer  Ticketer
	isolator  Isolator
	audit     audit.Logger
	log       *logrus.Entry
}

// NewOrchestrator builds an orchestrator. device may be nil, in which case
// block_ip and unblock_ip steps are skipped until SetDeviceActor is called.
// Notification adapters default to log-only stubs.
func NewOrchestrator(pipelines PipelineSource, actions ActionSource, device DeviceActor) *Orchestrator {
	return &Orchestrator{
		pipelines: pipelines,
		actions:   actions,
		device:    device,
		notifier:  NewLogNotifier(),
		ticketer:  NewLogTicketer(),
		isolator:  NewLogIsolator(),
		log:       util.WithComponent("response"),
	}
}

// SetDeviceActor wires the device service used by block_ip and unblock_ip.
func (o *Orchestrator) SetDeviceActor(d DeviceActor) { o.device = d }

// SetNotifier replaces the log-only email stub.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// SetTicketer replaces the log-only ticketing stub.
func (o *Orchestrator) SetTicketer(t Ticketer) { o.ticketer = t }

// SetIsolator replaces the log-only host isolation stub.
func (o *Orchestrator) SetIsolator(i Isolator) { o.isolator = i }

// SetAuditLogger directs step audit events to l instead of the package
// default sink.
func (o *Orchestrator) SetAuditLogger(l audit.Logger) { o.audit = l }

// ExecuteForOffence runs the offence's pipeline, if one exists. It is the
// correlation engine's Responder. An offence without a correlation rule, or
// a rule without an enabled pipeline, is a no-op.
func (o *Orchestrator) ExecuteForOffence(ctx context.Context, off *store.Offence) error {
	return o.execute(ctx, off, false)
}

// ExecuteManual runs the offence's pipeline on operator request and marks
// the resulting audit events as manual.
func (o *Orchestrator) ExecuteManual(ctx context.Context, off *store.Offence) error {
	return o.execute(ctx, off, true)
}

func (o *Orchestrator) execute(ctx context.Context, off *store.Offence, manual bool) error {
	if off == nil {
		return fmt.Errorf("%w: nil offence", util.ErrValidationFailed)
	}
	if off.CorrelationRuleID == nil {
		o.log.WithField("offence_id", off.ID).Debug("Offence has no correlation rule; no pipeline to run")
		return nil
	}
	ruleID := *off.CorrelationRuleID
	pipeline, err := o.pipelines.FindForRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			o.log.WithFields(logrus.Fields{
				"offence_id": off.ID,
				"rule_id":    ruleID,
			}).Debug("No enabled response pipeline for rule")
			return nil
		}
		return fmt.Errorf("finding response pipeline for rule %d: %w", ruleID, err)
	}

	steps := store.OrderedSteps(pipeline)
	o.log.WithFields(logrus.Fields{
		"offence_id":  off.ID,
		"pipeline_id": pipeline.ID,
		"pipeline":    pipeline.Name,
		"steps":       len(steps),
	}).Info("Executing response pipeline")

	for _, step := range steps {
		o.runStep(ctx, off, pipeline, step, manual)
	}
	return nil
}

// runStep loads, parameterizes, and executes one pipeline step. Failures
// are recorded but never propagated; the pipeline is best-effort.
func (o *Orchestrator) runStep(ctx context.Context, off *store.Offence, p *store.ResponsePipeline, step store.PipelineStep, manual bool) {
	log := o.log.WithFields(logrus.Fields{
		"offence_id":  off.ID,
		"pipeline_id": p.ID,
		"action_id":   step.ActionID,
		"order":       step.Order,
	})

	action, err := o.actions.Get(ctx, step.ActionID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			log.Warn("Step references a missing action; skipping")
		} else {
			log.WithError(err).Error("Loading step action failed; skipping")
		}
		metrics.ResponseSteps.WithLabelValues("unknown", outcomeSkipped).Inc()
		return
	}
	if !action.IsEnabled {
		log.WithField("action", action.Name).Info("Step action is disabled; skipping")
		metrics.ResponseSteps.WithLabelValues(action.Type, outcomeSkipped).Inc()
		return
	}

	params := effectiveParams(action, step, off)
	ev := audit.NewEvent(action.Type).
		WithOffence(off.ID).
		WithRule(*off.CorrelationRuleID).
		WithPipeline(p.ID).
		WithParams(auditParams(params)).
		WithManual(manual)

	start := time.Now()
	res := o.dispatch(ctx, off, action, params)
	ev.WithDuration(time.Since(start)).WithTarget(res.target).WithDevice(res.device)

	log = log.WithFields(logrus.Fields{
		"action": action.Name,
		"type":   action.Type,
		"target": res.target,
	})
	switch {
	case res.err == nil:
		ev.WithSuccess()
		metrics.ResponseSteps.WithLabelValues(action.Type, outcomeOK).Inc()
		log.Info("Response step succeeded")
	case errors.Is(res.err, util.ErrPreconditionFailed):
		ev.WithError(res.err)
		metrics.ResponseSteps.WithLabelValues(action.Type, outcomeSkipped).Inc()
		log.WithError(res.err).Warn("Response step not applicable; skipped")
	default:
		ev.WithError(res.err)
		metrics.ResponseSteps.WithLabelValues(action.Type, outcomeError).Inc()
		log.WithError(res.err).Error("Response step failed")
	}
	o.logAudit(ev)
}

func (o *Orchestrator) logAudit(ev *audit.Event) {
	var err error
	if o.audit != nil {
		err = o.audit.Log(ev)
	} else {
		err = audit.Log(ev)
	}
	if err != nil {
		o.log.WithError(err).Warn("Audit write failed")
	}
}
