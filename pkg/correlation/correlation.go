// Package correlation runs detection rules against the event and IoC
// indices and raises offences. A cycle loads the enabled rules, dispatches
// each by rule type, suppresses duplicates through the cooldown store and
// hands fresh offences to the response layer.
package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edgewatch/edgewatch/pkg/eventstore"
	"github.com/edgewatch/edgewatch/pkg/metrics"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

const (
	// iocFetchLimit bounds the IoC map built per IOC_MATCH rule.
	iocFetchLimit = 10000
	// eventMatchLimit bounds matched events per IOC_MATCH rule per cycle.
	eventMatchLimit = 10
	// compositePageSize is the composite aggregation page for threshold rules.
	compositePageSize = 1000
	// iocRealertTTL is how long an IoC match stays suppressed after raising
	// an offence. Threshold rules use their own window instead.
	iocRealertTTL = time.Hour
	// softCycleBudget is the wall-time above which a cycle logs a warning.
	// Slow cycles are never interrupted; the next tick just waits.
	softCycleBudget = 2 * time.Minute
)

// RuleSource is the slice of the relational store the engine reads rules from.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]store.CorrelationRule, error)
}

// OffenceSink receives the offences a cycle raises.
type OffenceSink interface {
	Create(ctx context.Context, o *store.Offence) (*store.Offence, error)
}

// Responder is invoked once per created offence. Failures are logged, never
// propagated: response is best-effort from the engine's point of view.
type Responder interface {
	ExecuteForOffence(ctx context.Context, o *store.Offence) error
}

// CycleStats summarizes one engine run.
type CycleStats struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Rules      int           `json:"rules_evaluated"`
	Offences   int           `json:"offences_created"`
	Suppressed int           `json:"offences_suppressed"`
	Errors     int           `json:"rule_errors"`
}

// candidate is an offence a rule wants to raise, plus its dedup identity.
type candidate struct {
	offence     *store.Offence
	cooldownKey string
	cooldownTTL time.Duration
}

// Engine evaluates correlation rules. At most one cycle runs at a time;
// triggers arriving mid-cycle coalesce into a single follow-up run.
type Engine struct {
	rules    RuleSource
	offences OffenceSink
	docs     *eventstore.Store
	cooldown *Cooldown
	respond  Responder
	log      *logrus.Entry

	cycleMu sync.Mutex
	kick    chan struct{}
}

// NewEngine wires the engine. cooldown may be nil, which disables duplicate
// suppression.
func NewEngine(rules RuleSource, offences OffenceSink, docs *eventstore.Store, cooldown *Cooldown) *Engine {
	return &Engine{
		rules:    rules,
		offences: offences,
		docs:     docs,
		cooldown: cooldown,
		log:      util.WithComponent("correlation"),
		kick:     make(chan struct{}, 1),
	}
}

// SetResponder attaches the response orchestrator invoked per created
// offence. Call before Run; the engine does not lock around this.
func (e *Engine) SetResponder(r Responder) {
	e.respond = r
}

// Run evaluates rules every interval until ctx is cancelled. Trigger runs
// an extra cycle between ticks.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.log.WithField("interval", interval.String()).Info("Correlation scheduler started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Correlation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-e.kick:
		}
		if _, err := e.RunCycle(ctx); err != nil {
			e.log.WithError(err).Error("Correlation cycle failed")
		}
	}
}

// Trigger requests a cycle outside the schedule. Non-blocking; while a
// cycle is running at most one follow-up is queued no matter how many
// triggers arrive.
func (e *Engine) Trigger() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// RunCycle executes one full cycle and reports what it did. Concurrent
// callers serialize: the second waits for the first to finish.
func (e *Engine) RunCycle(ctx context.Context) (*CycleStats, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	stats := &CycleStats{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := e.log.WithField("run_id", stats.RunID)

	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		metrics.CorrelationRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("loading correlation rules: %w", err)
	}
	stats.Rules = len(rules)
	log.WithField("rules", len(rules)).Info("Correlation cycle started")

	for i := range rules {
		rule := &rules[i]
		candidates, err := e.evaluate(ctx, rule)
		if err != nil {
			// One broken rule never aborts the cycle.
			stats.Errors++
			log.WithError(err).WithFields(logrus.Fields{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
			}).Warn("Rule evaluation failed")
			continue
		}
		for _, cand := range candidates {
			e.raise(ctx, log, cand, stats)
		}
	}

	stats.Duration = time.Since(stats.StartedAt)
	metrics.CorrelationRunDuration.Observe(stats.Duration.Seconds())
	metrics.CorrelationRuns.WithLabelValues("ok").Inc()
	if stats.Duration > softCycleBudget {
		log.WithField("duration", stats.Duration.String()).Warn("Correlation cycle exceeded soft budget")
	}
	log.WithFields(logrus.Fields{
		"duration":   stats.Duration.String(),
		"offences":   stats.Offences,
		"suppressed": stats.Suppressed,
		"errors":     stats.Errors,
	}).Info("Correlation cycle finished")
	return stats, nil
}

// evaluate dispatches one rule by type.
func (e *Engine) evaluate(ctx context.Context, rule *store.CorrelationRule) ([]candidate, error) {
	switch rule.RuleType {
	case store.RuleIOCMatchIP:
		return e.evalIOCMatch(ctx, rule)
	case store.RuleThresholdLoginFailures:
		return e.evalLoginFailures(ctx, rule)
	case store.RuleThresholdDataExfiltration:
		return e.evalDataExfiltration(ctx, rule)
	default:
		return nil, fmt.Errorf("%w: unsupported rule type %q", util.ErrInvalidConfig, rule.RuleType)
	}
}

// raise pushes one candidate through cooldown, storage and response.
func (e *Engine) raise(ctx context.Context, log *logrus.Entry, cand candidate, stats *CycleStats) {
	if !e.cooldown.Allow(ctx, cand.cooldownKey, cand.cooldownTTL) {
		stats.Suppressed++
		log.WithField("key", cand.cooldownKey).Debug("Offence suppressed by cooldown")
		return
	}

	created, err := e.offences.Create(ctx, cand.offence)
	if err != nil {
		stats.Errors++
		log.WithError(err).WithField("title", cand.offence.Title).Error("Could not store offence")
		return
	}
	stats.Offences++
	metrics.OffencesCreated.Inc()
	log.WithFields(logrus.Fields{
		"offence_id": created.ID,
		"severity":   created.Severity,
		"title":      created.Title,
	}).Info("Raised offence")

	if e.respond == nil {
		return
	}
	if err := e.respond.ExecuteForOffence(ctx, created); err != nil {
		log.WithError(err).WithField("offence_id", created.ID).Warn("Response pipeline failed for offence")
	}
}
