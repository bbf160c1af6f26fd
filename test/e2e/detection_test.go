//go:build e2e

package e2e_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/edgewatch/edgewatch/internal/testutil"
	"github.com/edgewatch/edgewatch/pkg/correlation"
	"github.com/edgewatch/edgewatch/pkg/eventstore"
	"github.com/edgewatch/edgewatch/pkg/indicator"
	"github.com/edgewatch/edgewatch/pkg/schema"
	"github.com/edgewatch/edgewatch/pkg/store"
)

// TestIoCMatchDetection runs the secondary flow end to end: an active IoC,
// a flow event whose destination matches it, one engine cycle, one offence.
func TestIoCMatchDetection(t *testing.T) {
	esAddr := testutil.ElasticsearchAddr(t)
	st, err := store.Open(testutil.DatabaseURL(t))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	if err := store.Migrate(st.DB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	docs, err := eventstore.New(eventstore.Config{Addresses: []string{esAddr}})
	if err != nil {
		t.Fatalf("eventstore.New: %v", err)
	}
	ctx := context.Background()
	if err := docs.EnsureIoCIndexTemplate(ctx); err != nil {
		t.Fatalf("ensure IoC template: %v", err)
	}

	// A run-unique tag keeps this rule's IoC map down to the one IoC this
	// test planted, so reruns against a dirty store stay deterministic.
	run := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	iocValue := "203.0.113.9"

	iocs := indicator.NewService(docs, st.APTGroups)
	confidence := 80
	planted, err := iocs.Add(ctx, &indicator.IoC{
		Value:      iocValue,
		Type:       indicator.TypeIPv4,
		IsActive:   true,
		Confidence: &confidence,
		Tags:       []string{run},
	})
	if err != nil {
		t.Fatalf("add IoC: %v", err)
	}
	t.Cleanup(func() { iocs.Delete(context.Background(), planted.ID) })

	ev := &schema.CommonEvent{
		Timestamp:          time.Now().UTC(),
		IngestionTimestamp: time.Now().UTC(),
		ReporterIP:         "192.0.2.1",
		EventCategory:      "network",
		EventType:          "flow",
		SourceIP:           "10.0.0.5",
		DestinationIP:      iocValue,
		Tags:               []string{run},
		RawLog:             "e2e flow",
	}
	if err := docs.WriteEvent(ctx, ev, eventstore.NetflowIndexPrefix); err != nil {
		t.Fatalf("write event: %v", err)
	}

	minConf := 50
	rule, err := st.Rules.Create(ctx, &store.CorrelationRule{
		Name:                 run,
		RuleType:             store.RuleIOCMatchIP,
		IsEnabled:            true,
		EventFieldToMatch:    "destination_ip",
		IoCTypeToMatch:       indicator.TypeIPv4,
		IoCTagsMatch:         []string{run},
		IoCMinConfidence:     &minConf,
		OffenceTitleTemplate: "Out to {ioc_value}",
		OffenceSeverity:      store.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	t.Cleanup(func() { st.Rules.Delete(context.Background(), rule.ID) })

	engine := correlation.NewEngine(st.Rules, st.Offences, docs, nil)

	var offences []store.Offence
	testutil.Eventually(t, 30*time.Second, func(ctx context.Context) error {
		if _, err := engine.RunCycle(ctx); err != nil {
			return err
		}
		offences, err = st.Offences.List(ctx, store.OffenceFilter{RuleID: rule.ID})
		if err != nil {
			return err
		}
		if len(offences) == 0 {
			return fmt.Errorf("no offence for rule %d yet", rule.ID)
		}
		return nil
	})

	off := offences[0]
	if off.Title != "Out to "+iocValue {
		t.Errorf("title = %q, want %q", off.Title, "Out to "+iocValue)
	}
	if off.Severity != store.SeverityHigh {
		t.Errorf("severity = %q, want high", off.Severity)
	}
	if off.MatchedIoCDetails["value"] != iocValue {
		t.Errorf("matched_ioc_details.value = %v, want %s", off.MatchedIoCDetails["value"], iocValue)
	}
	if off.TriggeringEventSummary["destination_ip"] != iocValue {
		t.Errorf("triggering destination_ip = %v", off.TriggeringEventSummary["destination_ip"])
	}
}
