package correlation

import (
	"context"
	"fmt"

	"github.com/edgewatch/edgewatch/pkg/eventstore"
	"github.com/edgewatch/edgewatch/pkg/indicator"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

// eventPatterns are the index patterns an IOC_MATCH rule scans.
var eventPatterns = []string{
	eventstore.SyslogIndexPrefix + "-*",
	eventstore.NetflowIndexPrefix + "-*",
}

// evalIOCMatch matches recent event field values against the active IoC set.
// Two queries per rule: one building a value→IoC map from the indicator
// index, one pulling the last hour of events whose matched field carries
// any of those values.
func (e *Engine) evalIOCMatch(ctx context.Context, rule *store.CorrelationRule) ([]candidate, error) {
	if rule.EventFieldToMatch == "" || rule.IoCTypeToMatch == "" {
		return nil, fmt.Errorf("%w: rule %d needs event_field_to_match and ioc_type_to_match", util.ErrInvalidConfig, rule.ID)
	}

	byValue, err := e.activeIoCs(ctx, rule)
	if err != nil {
		return nil, err
	}
	if len(byValue) == 0 {
		return nil, nil
	}

	values := make([]string, 0, len(byValue))
	for v := range byValue {
		values = append(values, v)
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"exists": map[string]interface{}{"field": rule.EventFieldToMatch}},
					{"terms": map[string]interface{}{rule.EventFieldToMatch: values}},
					{"range": map[string]interface{}{"timestamp": map[string]interface{}{"gte": "now-1h"}}},
				},
			},
		},
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "desc"}},
		},
		"size": eventMatchLimit,
	}
	res, err := e.docs.Search(ctx, eventPatterns, query)
	if err != nil {
		return nil, fmt.Errorf("searching events for rule %d: %w", rule.ID, err)
	}

	var out []candidate
	for _, hit := range res.Hits.Hits {
		var event map[string]interface{}
		if err := hit.Decode(&event); err != nil {
			e.log.WithError(err).WithField("doc_id", hit.ID).Warn("Skipping undecodable event")
			continue
		}
		matched, ok := byValue[stringify(event[rule.EventFieldToMatch])]
		if !ok {
			continue
		}
		out = append(out, e.iocCandidate(rule, event, matched))
	}
	return out, nil
}

// activeIoCs loads the IoCs the rule can match, keyed by value. All filters
// run store-side: active, type, every required tag, minimum confidence.
func (e *Engine) activeIoCs(ctx context.Context, rule *store.CorrelationRule) (map[string]indicator.IoC, error) {
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"is_active": true}},
		{"term": map[string]interface{}{"type": rule.IoCTypeToMatch}},
	}
	for _, tag := range rule.IoCTagsMatch {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"tags": tag},
		})
	}
	if rule.IoCMinConfidence != nil {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"confidence": map[string]interface{}{"gte": *rule.IoCMinConfidence}},
		})
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
		"size": iocFetchLimit,
	}
	res, err := e.docs.Search(ctx, []string{indicator.IOCIndexPattern}, query)
	if err != nil {
		return nil, fmt.Errorf("loading IoCs for rule %d: %w", rule.ID, err)
	}

	byValue := make(map[string]indicator.IoC, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var ioc indicator.IoC
		if err := hit.Decode(&ioc); err != nil {
			e.log.WithError(err).WithField("doc_id", hit.ID).Warn("Skipping undecodable IoC")
			continue
		}
		ioc.ID = hit.ID
		byValue[ioc.Value] = ioc
	}
	return byValue, nil
}

// iocCandidate builds the offence for one event/IoC match.
func (e *Engine) iocCandidate(rule *store.CorrelationRule, event map[string]interface{}, ioc indicator.IoC) candidate {
	title := util.RenderTemplate(rule.OffenceTitleTemplate, map[string]interface{}{
		"ioc_value":            ioc.Value,
		"ioc_type":             ioc.Type,
		"event_source_ip":      event["source_ip"],
		"event_destination_ip": event["destination_ip"],
		"event_hostname":       event["hostname"],
		"event":                event,
	})

	ruleID := rule.ID
	off := &store.Offence{
		Title: title,
		Description: fmt.Sprintf("Rule %q (id %d) triggered: event from reporter %s matched IoC %q.",
			rule.Name, rule.ID, stringify(event["reporter_ip"]), ioc.Value),
		Severity:               rule.OffenceSeverity,
		Status:                 store.OffenceNew,
		CorrelationRuleID:      &ruleID,
		TriggeringEventSummary: eventSummary(event),
		MatchedIoCDetails:      iocDetails(ioc),
		AttributedAPTGroupIDs:  append([]int64(nil), ioc.APTGroupIDs...),
	}
	return candidate{
		offence:     off,
		cooldownKey: fmt.Sprintf("%d:%s", rule.ID, ioc.Value),
		cooldownTTL: iocRealertTTL,
	}
}
