package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// iocTemplateName is the composable index template applied to every daily
// IoC index.
const iocTemplateName = "siem-iocs"

// keywordField is a keyword mapping that also answers under a ".keyword"
// subfield, so exact matches work spelled either way.
var keywordField = map[string]interface{}{
	"type": "keyword",
	"fields": map[string]interface{}{
		"keyword": map[string]interface{}{"type": "keyword"},
	},
}

// iocMappings pins the fields the indicator queries filter and aggregate on.
// Event indices stay dynamically mapped; only the IoC documents need exact
// types for terms lookups, tag aggregation and date sorting to behave.
var iocMappings = map[string]interface{}{
	"properties": map[string]interface{}{
		"value": map[string]interface{}{
			"type": "text",
			"fields": map[string]interface{}{
				"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 2048},
			},
		},
		"type":                     keywordField,
		"tags":                     map[string]interface{}{"type": "keyword"},
		"is_active":                map[string]interface{}{"type": "boolean"},
		"attributed_apt_group_ids": map[string]interface{}{"type": "long"},
		"confidence":               map[string]interface{}{"type": "integer"},
		"description":              map[string]interface{}{"type": "text"},
		"source_name":              map[string]interface{}{"type": "keyword"},
		"first_seen":               map[string]interface{}{"type": "date"},
		"last_seen":                map[string]interface{}{"type": "date"},
		"created_at_siem":          map[string]interface{}{"type": "date"},
		"updated_at_siem":          map[string]interface{}{"type": "date"},
		"@timestamp":               map[string]interface{}{"type": "date"},
	},
}

// EnsureIoCIndexTemplate installs the index template covering siem-iocs-*.
// Idempotent: re-putting the same template is a no-op on the cluster, so
// every process can call this at startup.
func (s *Store) EnsureIoCIndexTemplate(ctx context.Context) error {
	body, err := json.Marshal(map[string]interface{}{
		"index_patterns": []string{IOCIndexPrefix + "-*"},
		"template": map[string]interface{}{
			"mappings": iocMappings,
		},
	})
	if err != nil {
		return util.NewStoreError("serialize", iocTemplateName, err)
	}

	res, err := s.es.Indices.PutIndexTemplate(iocTemplateName, bytes.NewReader(body),
		s.es.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return util.NewStoreError("put_template", iocTemplateName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return util.NewStoreError("put_template", iocTemplateName, errors.New(res.String()))
	}

	util.WithComponent("eventstore").
		WithField("template", iocTemplateName).
		Debug("Index template ensured")
	return nil
}
