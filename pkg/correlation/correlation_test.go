package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"

	"github.com/edgewatch/edgewatch/pkg/eventstore"
	"github.com/edgewatch/edgewatch/pkg/indicator"
	"github.com/edgewatch/edgewatch/pkg/store"
)

// newEngineStore serves cluster info on "/" and delegates everything else,
// tagging responses the way a real cluster does so the client accepts them.
func newEngineStore(t *testing.T, handler http.HandlerFunc) *eventstore.Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			fmt.Fprint(w, `{"cluster_name":"test-cluster","version":{"number":"8.14.0"}}`)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	docs, err := eventstore.New(eventstore.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("eventstore.New: %v", err)
	}
	return docs
}

func readBody(t *testing.T, r *http.Request) string {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("reading request body: %v", err)
	}
	return string(body)
}

type fakeRules struct {
	rules []store.CorrelationRule
	err   error
}

func (f *fakeRules) ListEnabled(context.Context) ([]store.CorrelationRule, error) {
	return f.rules, f.err
}

type fakeOffences struct {
	mu      sync.Mutex
	created []*store.Offence
	nextID  int64
	err     error
}

func (f *fakeOffences) Create(_ context.Context, o *store.Offence) (*store.Offence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	stored := *o
	stored.ID = f.nextID
	stored.DetectedAt = time.Now().UTC()
	f.created = append(f.created, &stored)
	return &stored, nil
}

func (f *fakeOffences) all() []*store.Offence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.Offence(nil), f.created...)
}

type fakeResponder struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (f *fakeResponder) ExecuteForOffence(_ context.Context, o *store.Offence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, o.ID)
	return f.err
}

func intp(v int) *int     { return &v }
func i64p(v int64) *int64 { return &v }

func iocRule() store.CorrelationRule {
	return store.CorrelationRule{
		ID:                   1,
		Name:                 "outbound-to-ioc",
		RuleType:             store.RuleIOCMatchIP,
		IsEnabled:            true,
		EventFieldToMatch:    "destination_ip",
		IoCTypeToMatch:       indicator.TypeIPv4,
		IoCTagsMatch:         pq.StringArray{"apt:apt28"},
		IoCMinConfidence:     intp(50),
		OffenceTitleTemplate: "Out→{ioc_value}",
		OffenceSeverity:      store.SeverityHigh,
	}
}

const iocSearchHit = `{
	"_index": "siem-iocs-2026.08.20",
	"_id": "ioc-1",
	"_source": {
		"value": "8.8.8.8",
		"type": "ipv4-addr",
		"is_active": true,
		"tags": ["apt:apt28"],
		"confidence": 80,
		"attributed_apt_group_ids": [7]
	}
}`

const flowEventHit = `{
	"_index": "siem-netflow-events-2026.08.24",
	"_id": "ev-1",
	"_source": {
		"timestamp": "2026-08-24T11:59:55Z",
		"reporter_ip": "192.168.88.1",
		"source_ip": "192.168.1.1",
		"destination_ip": "8.8.8.8",
		"event_type": "netflow",
		"network_bytes_total": 15000
	}
}`

func hits(docs ...string) string {
	return fmt.Sprintf(`{"took":1,"hits":{"total":{"value":%d,"relation":"eq"},"hits":[%s]}}`,
		len(docs), strings.Join(docs, ","))
}

func TestRunCycleIOCMatch(t *testing.T) {
	var (
		mu         sync.Mutex
		iocQuery   string
		eventQuery string
	)
	docs := newEngineStore(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		switch {
		case strings.Contains(r.URL.Path, "siem-iocs"):
			mu.Lock()
			iocQuery = body
			mu.Unlock()
			fmt.Fprint(w, hits(iocSearchHit))
		case strings.Contains(r.URL.Path, "siem-syslog-events"):
			mu.Lock()
			eventQuery = body
			mu.Unlock()
			fmt.Fprint(w, hits(flowEventHit))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	offences := &fakeOffences{}
	responder := &fakeResponder{}
	engine := NewEngine(&fakeRules{rules: []store.CorrelationRule{iocRule()}}, offences, docs, nil)
	engine.SetResponder(responder)

	stats, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Offences != 1 || stats.Errors != 0 {
		t.Fatalf("stats = %+v, want 1 offence", stats)
	}

	created := offences.all()
	if len(created) != 1 {
		t.Fatalf("created %d offences, want 1", len(created))
	}
	off := created[0]
	if off.Title != "Out→8.8.8.8" {
		t.Errorf("title = %q", off.Title)
	}
	if off.Severity != store.SeverityHigh || off.Status != store.OffenceNew {
		t.Errorf("severity/status = %s/%s", off.Severity, off.Status)
	}
	if off.CorrelationRuleID == nil || *off.CorrelationRuleID != 1 {
		t.Errorf("rule id = %v", off.CorrelationRuleID)
	}
	if len(off.AttributedAPTGroupIDs) != 1 || off.AttributedAPTGroupIDs[0] != 7 {
		t.Errorf("apt ids = %v", off.AttributedAPTGroupIDs)
	}
	if off.TriggeringEventSummary["destination_ip"] != "8.8.8.8" {
		t.Errorf("summary = %v", off.TriggeringEventSummary)
	}
	if _, ok := off.TriggeringEventSummary["network_bytes_total"]; ok {
		t.Error("summary copied a non-summary field")
	}
	if off.MatchedIoCDetails["value"] != "8.8.8.8" {
		t.Errorf("matched ioc = %v", off.MatchedIoCDetails)
	}

	responder.mu.Lock()
	if len(responder.ids) != 1 || responder.ids[0] != off.ID {
		t.Errorf("responder ids = %v, want [%d]", responder.ids, off.ID)
	}
	responder.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	for _, frag := range []string{`"is_active":true`, `"type":"ipv4-addr"`, `"tags":"apt:apt28"`, `"gte":50`} {
		if !strings.Contains(iocQuery, frag) {
			t.Errorf("ioc query %s missing %s", iocQuery, frag)
		}
	}
	for _, frag := range []string{`"exists":{"field":"destination_ip"}`, `"terms":{"destination_ip":["8.8.8.8"]}`, `"now-1h"`, `"size":10`, `"order":"desc"`} {
		if !strings.Contains(eventQuery, frag) {
			t.Errorf("event query %s missing %s", eventQuery, frag)
		}
	}
}

func TestRunCycleCooldownSuppressesRepeat(t *testing.T) {
	docs := newEngineStore(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "siem-iocs") {
			fmt.Fprint(w, hits(iocSearchHit))
			return
		}
		fmt.Fprint(w, hits(flowEventHit))
	})

	mr := miniredis.RunT(t)
	cooldown := NewCooldown(mr.Addr(), "", 0)
	defer cooldown.Close()

	offences := &fakeOffences{}
	engine := NewEngine(&fakeRules{rules: []store.CorrelationRule{iocRule()}}, offences, docs, cooldown)

	first, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	second, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}

	if first.Offences != 1 || second.Offences != 0 || second.Suppressed != 1 {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	if len(offences.all()) != 1 {
		t.Errorf("created %d offences across cycles, want 1", len(offences.all()))
	}
	if !mr.Exists("offence:1:8.8.8.8") {
		t.Error("cooldown key not set")
	}
}

func TestRunCycleEmptyIoCSetSkipsEventQuery(t *testing.T) {
	docs := newEngineStore(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "siem-iocs") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, hits())
	})

	offences := &fakeOffences{}
	engine := NewEngine(&fakeRules{rules: []store.CorrelationRule{iocRule()}}, offences, docs, nil)

	stats, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Offences != 0 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunCycleRuleFailureDoesNotAbortCycle(t *testing.T) {
	docs := newEngineStore(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "siem-iocs") {
			fmt.Fprint(w, hits(iocSearchHit))
			return
		}
		fmt.Fprint(w, hits(flowEventHit))
	})

	broken := store.CorrelationRule{
		ID:                   9,
		Name:                 "half-configured",
		RuleType:             store.RuleThresholdLoginFailures,
		OffenceTitleTemplate: "x",
		OffenceSeverity:      store.SeverityLow,
	}
	offences := &fakeOffences{}
	engine := NewEngine(&fakeRules{rules: []store.CorrelationRule{broken, iocRule()}}, offences, docs, nil)

	stats, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Errors != 1 || stats.Offences != 1 {
		t.Errorf("stats = %+v, want 1 error and 1 offence", stats)
	}
}

func TestRunCycleUnknownRuleType(t *testing.T) {
	docs := newEngineStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %q", r.URL.Path)
	})
	rules := []store.CorrelationRule{{ID: 2, Name: "odd", RuleType: "SEQUENCE_OF_EVENTS"}}
	engine := NewEngine(&fakeRules{rules: rules}, &fakeOffences{}, docs, nil)

	stats, err := engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Errors != 1 {
		t.Errorf("stats = %+v, want 1 error", stats)
	}
}

func TestRunCycleRuleListFailure(t *testing.T) {
	docs := newEngineStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %q", r.URL.Path)
	})
	engine := NewEngine(&fakeRules{err: errors.New("connection refused")}, &fakeOffences{}, docs, nil)

	if _, err := engine.RunCycle(context.Background()); err == nil {
		t.Fatal("RunCycle succeeded with rule source down")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	docs := newEngineStore(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, hits())
	})
	engine := NewEngine(&fakeRules{}, &fakeOffences{}, docs, nil)

	engine.Trigger()
	engine.Trigger()
	engine.Trigger()
	if len(engine.kick) != 1 {
		t.Errorf("queued triggers = %d, want 1", len(engine.kick))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	docs := newEngineStore(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, hits())
	})
	engine := NewEngine(&fakeRules{}, &fakeOffences{}, docs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestParseAggregationEnvelope(t *testing.T) {
	raw := json.RawMessage(`{"after_key":{"username":"bob"},"buckets":[{"key":{"username":"alice"},"doc_count":6,"total_bytes":{"value":123.0}}]}`)
	var page compositePage
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if page.AfterKey["username"] != "bob" {
		t.Errorf("after_key = %v", page.AfterKey)
	}
	if len(page.Buckets) != 1 || page.Buckets[0].DocCount != 6 || page.Buckets[0].TotalBytes.Value != 123 {
		t.Errorf("buckets = %+v", page.Buckets)
	}
}
