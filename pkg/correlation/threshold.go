package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgewatch/edgewatch/pkg/eventstore"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

type sumValue struct {
	Value float64 `json:"value"`
}

type compositeBucket struct {
	Key        map[string]interface{} `json:"key"`
	DocCount   int64                  `json:"doc_count"`
	TotalBytes *sumValue              `json:"total_bytes"`
}

type compositePage struct {
	AfterKey map[string]interface{} `json:"after_key"`
	Buckets  []compositeBucket      `json:"buckets"`
}

// evalLoginFailures raises an offence per aggregation bucket whose failed
// authentication count reaches the rule threshold inside the window.
func (e *Engine) evalLoginFailures(ctx context.Context, rule *store.CorrelationRule) ([]candidate, error) {
	if err := checkThresholdRule(rule); err != nil {
		return nil, err
	}
	window := *rule.ThresholdWindowMinutes

	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"event_category": "authentication"}},
		{"term": map[string]interface{}{"event_outcome": "failure"}},
		windowClause(window),
	}
	indices := []string{eventstore.SyslogIndexPrefix + "-*"}
	buckets, err := e.compositeBuckets(ctx, rule, indices, filters, false)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, b := range buckets {
		if b.DocCount < *rule.ThresholdCount {
			continue
		}
		keyInfo := aggregationKeyInfo(rule.AggregationFields, b.Key)
		title := util.RenderTemplate(rule.OffenceTitleTemplate, map[string]interface{}{
			"aggregation_key_info": keyInfo,
			"actual_count":         b.DocCount,
			"time_window_minutes":  window,
		})
		description := fmt.Sprintf("Rule %q (id %d): %d authentication failures for %s within %d minutes.",
			rule.Name, rule.ID, b.DocCount, keyInfo, window)
		out = append(out, thresholdCandidate(rule, b.Key, keyInfo, title, description, store.JSONMap{
			"actual_count":        b.DocCount,
			"time_window_minutes": window,
		}))
	}
	return out, nil
}

// evalDataExfiltration raises an offence per aggregation bucket whose summed
// flow bytes reach the rule threshold inside the window. threshold_count is
// read as a byte count here.
func (e *Engine) evalDataExfiltration(ctx context.Context, rule *store.CorrelationRule) ([]candidate, error) {
	if err := checkThresholdRule(rule); err != nil {
		return nil, err
	}
	window := *rule.ThresholdWindowMinutes

	filters := []map[string]interface{}{windowClause(window)}
	indices := []string{eventstore.NetflowIndexPrefix + "-*"}
	buckets, err := e.compositeBuckets(ctx, rule, indices, filters, true)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, b := range buckets {
		if b.TotalBytes == nil {
			continue
		}
		sum := int64(b.TotalBytes.Value)
		if sum < *rule.ThresholdCount {
			continue
		}
		keyInfo := aggregationKeyInfo(rule.AggregationFields, b.Key)
		title := util.RenderTemplate(rule.OffenceTitleTemplate, map[string]interface{}{
			"aggregation_key_info": keyInfo,
			"actual_sum_bytes":     sum,
			"time_window_minutes":  window,
		})
		description := fmt.Sprintf("Rule %q (id %d): %d bytes transferred for %s within %d minutes.",
			rule.Name, rule.ID, sum, keyInfo, window)
		out = append(out, thresholdCandidate(rule, b.Key, keyInfo, title, description, store.JSONMap{
			"actual_sum_bytes":    sum,
			"time_window_minutes": window,
		}))
	}
	return out, nil
}

func checkThresholdRule(rule *store.CorrelationRule) error {
	v := &util.ValidationBuilder{}
	v.Add(rule.ThresholdCount != nil && *rule.ThresholdCount > 0, fmt.Sprintf("rule %d needs threshold_count", rule.ID))
	v.Add(rule.ThresholdWindowMinutes != nil && *rule.ThresholdWindowMinutes > 0, fmt.Sprintf("rule %d needs threshold_time_window_minutes", rule.ID))
	v.Add(len(rule.AggregationFields) > 0, fmt.Sprintf("rule %d needs aggregation_fields", rule.ID))
	return v.Build()
}

// windowClause restricts to the last N minutes, matching on either
// @timestamp or timestamp so both event generations qualify.
func windowClause(minutes int) map[string]interface{} {
	gte := fmt.Sprintf("now-%dm", minutes)
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"should": []map[string]interface{}{
				{"range": map[string]interface{}{"@timestamp": map[string]interface{}{"gte": gte}}},
				{"range": map[string]interface{}{"timestamp": map[string]interface{}{"gte": gte}}},
			},
			"minimum_should_match": 1,
		},
	}
}

// compositeBuckets pages a composite terms aggregation over the rule's
// aggregation fields until the store stops returning an after_key.
func (e *Engine) compositeBuckets(ctx context.Context, rule *store.CorrelationRule, indices []string, filters []map[string]interface{}, sumBytes bool) ([]compositeBucket, error) {
	sources := make([]map[string]interface{}, 0, len(rule.AggregationFields))
	for _, f := range rule.AggregationFields {
		sources = append(sources, map[string]interface{}{
			f: map[string]interface{}{
				"terms": map[string]interface{}{"field": f + ".keyword"},
			},
		})
	}

	var all []compositeBucket
	var after map[string]interface{}
	for {
		comp := map[string]interface{}{
			"size":    compositePageSize,
			"sources": sources,
		}
		if after != nil {
			comp["after"] = after
		}
		agg := map[string]interface{}{"composite": comp}
		if sumBytes {
			agg["aggregations"] = map[string]interface{}{
				"total_bytes": map[string]interface{}{
					"sum": map[string]interface{}{"field": "network_bytes_total"},
				},
			}
		}
		query := map[string]interface{}{
			"size":  0,
			"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
			"aggs":  map[string]interface{}{"by_key": agg},
		}

		res, err := e.docs.Search(ctx, indices, query)
		if err != nil {
			return nil, fmt.Errorf("aggregating events for rule %d: %w", rule.ID, err)
		}
		raw, ok := res.Aggregations["by_key"]
		if !ok {
			// No matching indices yet; nothing to page through.
			return all, nil
		}
		var page compositePage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decoding aggregation for rule %d: %w", rule.ID, err)
		}
		all = append(all, page.Buckets...)
		if page.AfterKey == nil || len(page.Buckets) < compositePageSize {
			return all, nil
		}
		after = page.AfterKey
	}
}

// thresholdCandidate builds the offence for one bucket over threshold. The
// summary carries the bucket key fields so response parameter templates can
// reference them like event fields.
func thresholdCandidate(rule *store.CorrelationRule, key map[string]interface{}, keyInfo, title, description string, extra store.JSONMap) candidate {
	summary := store.JSONMap{}
	for f, v := range key {
		summary[f] = util.Truncate(stringify(v), summaryValueLimit)
	}
	for k, v := range extra {
		summary[k] = v
	}

	ruleID := rule.ID
	off := &store.Offence{
		Title:                  title,
		Description:            description,
		Severity:               rule.OffenceSeverity,
		Status:                 store.OffenceNew,
		CorrelationRuleID:      &ruleID,
		TriggeringEventSummary: summary,
		AttributedAPTGroupIDs:  []int64{},
	}
	return candidate{
		offence:     off,
		cooldownKey: fmt.Sprintf("%d:%s", rule.ID, keyInfo),
		cooldownTTL: time.Duration(*rule.ThresholdWindowMinutes) * time.Minute,
	}
}
