package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// Hit is one search result document.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
	Sort   []interface{}   `json:"sort,omitempty"`
}

// SearchResult is the decoded search envelope. Aggregations stay raw so
// callers can decode the shapes their own queries produced.
type SearchResult struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value    int    `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations,omitempty"`
}

// Decode unmarshals a hit's source document into out.
func (h Hit) Decode(out interface{}) error {
	return json.Unmarshal(h.Source, out)
}

// Search runs a raw query against the given indices. Wildcard patterns and
// missing daily indices are tolerated so callers can address date ranges
// without checking which days exist.
func (s *Store) Search(ctx context.Context, indices []string, query interface{}) (*SearchResult, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, util.NewStoreError("serialize", strings.Join(indices, ","), err)
	}
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(indices...),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithIgnoreUnavailable(true),
		s.es.Search.WithAllowNoIndices(true),
	)
	target := strings.Join(indices, ",")
	if err != nil {
		return nil, util.NewStoreError("search", target, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, util.NewStoreError("search", target, errors.New(res.String()))
	}

	var out SearchResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, util.NewStoreError("search", target, err)
	}
	return &out, nil
}

// Update applies an update body (doc merge or script) to one document. The
// index is refreshed so callers can read the change back immediately.
func (s *Store) Update(ctx context.Context, index, id string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return util.NewStoreError("serialize", index, err)
	}
	res, err := s.es.Update(index, id, bytes.NewReader(payload),
		s.es.Update.WithContext(ctx),
		s.es.Update.WithRefresh("true"),
	)
	if err != nil {
		return util.NewStoreError("update", index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s/%s", util.ErrNotFound, index, id)
	}
	if res.IsError() {
		return util.NewStoreError("update", index, errors.New(res.String()))
	}
	return nil
}

// UpdateByQuery applies an update body across every matching document and
// returns how many were updated. Version conflicts are skipped, not fatal:
// concurrent writers may touch documents mid-sweep.
func (s *Store) UpdateByQuery(ctx context.Context, indices []string, body interface{}) (int64, error) {
	target := strings.Join(indices, ",")
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, util.NewStoreError("serialize", target, err)
	}
	res, err := s.es.UpdateByQuery(
		indices,
		s.es.UpdateByQuery.WithContext(ctx),
		s.es.UpdateByQuery.WithBody(bytes.NewReader(payload)),
		s.es.UpdateByQuery.WithIgnoreUnavailable(true),
		s.es.UpdateByQuery.WithConflicts("proceed"),
		s.es.UpdateByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, util.NewStoreError("update_by_query", target, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, util.NewStoreError("update_by_query", target, errors.New(res.String()))
	}

	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, util.NewStoreError("update_by_query", target, err)
	}
	return out.Updated, nil
}

// Delete removes one document. Missing documents map to ErrNotFound.
func (s *Store) Delete(ctx context.Context, index, id string) error {
	res, err := s.es.Delete(index, id, s.es.Delete.WithContext(ctx))
	if err != nil {
		return util.NewStoreError("delete", index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s/%s", util.ErrNotFound, index, id)
	}
	if res.IsError() {
		return util.NewStoreError("delete", index, errors.New(res.String()))
	}
	return nil
}
