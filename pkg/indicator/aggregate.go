package indicator

import (
	"context"
	"encoding/json"
	"fmt"
)

// TypeCount is one bucket of the active-IoCs-by-type summary.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type termsBuckets struct {
	Buckets []struct {
		Key      string `json:"key"`
		DocCount int64  `json:"doc_count"`
	} `json:"buckets"`
}

func decodeTerms(raw json.RawMessage, name string) (*termsBuckets, error) {
	var agg termsBuckets
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decoding %s aggregation: %w", name, err)
	}
	return &agg, nil
}

// SummaryByType counts active IoCs per type.
func (s *Service) SummaryByType(ctx context.Context) ([]TypeCount, error) {
	res, err := s.docs.Search(ctx, []string{IOCIndexPattern}, map[string]interface{}{
		"size":  0,
		"query": map[string]interface{}{"term": map[string]interface{}{"is_active": true}},
		"aggs": map[string]interface{}{
			"by_type": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": "type.keyword",
					"size":  len(validTypes),
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	raw, ok := res.Aggregations["by_type"]
	if !ok {
		return []TypeCount{}, nil
	}
	agg, err := decodeTerms(raw, "by_type")
	if err != nil {
		return nil, err
	}

	counts := make([]TypeCount, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		counts = append(counts, TypeCount{Type: b.Key, Count: b.DocCount})
	}
	return counts, nil
}

// UniqueTags returns every distinct tag in use, alphabetically, capped at
// 1000 terms.
func (s *Service) UniqueTags(ctx context.Context) ([]string, error) {
	res, err := s.docs.Search(ctx, []string{IOCIndexPattern}, map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"tags": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": "tags",
					"size":  1000,
					"order": map[string]interface{}{"_key": "asc"},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	raw, ok := res.Aggregations["tags"]
	if !ok {
		return []string{}, nil
	}
	agg, err := decodeTerms(raw, "tags")
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		tags = append(tags, b.Key)
	}
	return tags, nil
}
