package correlation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/edgewatch/edgewatch/pkg/indicator"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

// summaryFields are the event keys copied into an offence's triggering
// summary. Everything else stays behind in the event index.
var summaryFields = []string{
	"timestamp", "reporter_ip", "hostname", "message",
	"source_ip", "destination_ip", "event_category", "event_type",
}

// summaryValueLimit caps each summary value; long syslog messages would
// otherwise bloat the offence row.
const summaryValueLimit = 250

// eventSummary extracts and truncates the offence-relevant fields of an
// event document.
func eventSummary(event map[string]interface{}) store.JSONMap {
	summary := store.JSONMap{}
	for _, key := range summaryFields {
		v, ok := event[key]
		if !ok || v == nil {
			continue
		}
		summary[key] = util.Truncate(stringify(v), summaryValueLimit)
	}
	return summary
}

// iocDetails flattens an IoC into the JSON map stored on the offence.
func iocDetails(ioc indicator.IoC) store.JSONMap {
	raw, err := json.Marshal(ioc)
	if err != nil {
		return store.JSONMap{"ioc_id": ioc.ID, "value": ioc.Value, "type": ioc.Type}
	}
	var m store.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return store.JSONMap{"ioc_id": ioc.ID, "value": ioc.Value, "type": ioc.Type}
	}
	return m
}

// stringify renders an event field the way it reads in a document: integral
// floats (the JSON decoding of every stored number) print without an
// exponent, so IPs-as-strings and ports-as-numbers both come out clean.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// aggregationKeyInfo renders a composite bucket key as "k1='v1', k2='v2'",
// keeping the rule's field order.
func aggregationKeyInfo(fields []string, key map[string]interface{}) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s='%s'", f, stringify(key[f])))
	}
	return strings.Join(parts, ", ")
}
