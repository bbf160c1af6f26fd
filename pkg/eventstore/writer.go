package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgewatch/edgewatch/pkg/schema"
	"github.com/edgewatch/edgewatch/pkg/util"
)

const indexDateLayout = "2006.01.02"

// IndexName returns the daily index "<prefix>-YYYY.MM.DD" for ts, in UTC.
func IndexName(prefix string, ts time.Time) string {
	return prefix + "-" + ts.UTC().Format(indexDateLayout)
}

// indexTime picks the timestamp that routes an arbitrary document to its
// daily index: timestamp, then @timestamp, then created_at_siem. Documents
// without any usable timestamp land in today's index.
func indexTime(doc map[string]interface{}, now time.Time) time.Time {
	for _, key := range []string{"timestamp", "@timestamp", "created_at_siem"} {
		v, ok := doc[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			return t
		case *time.Time:
			if t != nil {
				return *t
			}
		case string:
			if ts, err := time.Parse(time.RFC3339, t); err == nil {
				return ts
			}
		}
	}
	return now
}

type indexResponse struct {
	ID     string `json:"_id"`
	Result string `json:"result"`
}

func indexAccepted(result string) bool {
	switch result {
	case "created", "updated", "noop":
		return true
	}
	return false
}

// WriteEvent indexes one normalized event into the daily index for prefix.
// Ids are store-generated. Failures are returned to the caller and never
// retried here.
func (s *Store) WriteEvent(ctx context.Context, ev *schema.CommonEvent, prefix string) error {
	if ev == nil {
		return errors.New("nil event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return util.NewStoreError("serialize", prefix, err)
	}
	_, err = s.index(ctx, IndexName(prefix, ev.Timestamp), body)
	return err
}

// WriteDocument indexes an arbitrary document and returns its generated id.
func (s *Store) WriteDocument(ctx context.Context, prefix string, doc map[string]interface{}) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", util.NewStoreError("serialize", prefix, err)
	}
	return s.index(ctx, IndexName(prefix, indexTime(doc, time.Now().UTC())), body)
}

func (s *Store) index(ctx context.Context, index string, body []byte) (string, error) {
	res, err := s.es.Index(index, bytes.NewReader(body), s.es.Index.WithContext(ctx))
	if err != nil {
		return "", util.NewStoreError("index", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", util.NewStoreError("index", index, errors.New(res.String()))
	}

	var out indexResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", util.NewStoreError("index", index, err)
	}
	if !indexAccepted(out.Result) {
		return "", util.NewStoreError("index", index, fmt.Errorf("unexpected result %q", out.Result))
	}
	return out.ID, nil
}
