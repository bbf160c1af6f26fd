package indicator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

type fakeSources struct {
	mu      sync.Mutex
	sources map[int64]*store.IoCSource
	fetched []int64
}

func newFakeSources(sources ...*store.IoCSource) *fakeSources {
	f := &fakeSources{sources: map[int64]*store.IoCSource{}}
	for _, s := range sources {
		f.sources[s.ID] = s
	}
	return f
}

func (f *fakeSources) Get(_ context.Context, id int64) (*store.IoCSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sources[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: ioc_sources", util.ErrNotFound)
}

func (f *fakeSources) MarkFetched(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[id]; !ok {
		return fmt.Errorf("%w: ioc_sources", util.ErrNotFound)
	}
	f.fetched = append(f.fetched, id)
	return nil
}

const testFeed = `[
	{
		"name": "APT28",
		"aliases": ["Fancy Bear"],
		"description": "GRU-linked espionage group",
		"sophistication": "advanced",
		"primary_motivation": "espionage",
		"country_of_origin": "RU",
		"first_observed": "2007-01-01",
		"iocs": [
			{"value": "198.51.100.7", "type": "IPV4_ADDR", "confidence": 90, "tags": ["c2"]},
			{"value": "evil.example.org", "type": "domain-name", "is_active": false},
			{"value": "HKLM\\Software\\Bad", "type": "registry-key"}
		]
	},
	{
		"name": "Sandworm",
		"iocs": [
			{"value": "203.0.113.99", "type": "ipv4-addr"}
		]
	}
]`

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing feed fixture: %v", err)
	}
	return path
}

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"IPV4_ADDR", "ipv4-addr"},
		{"ipv4-addr", "ipv4-addr"},
		{"File_Hash_SHA256", "file-hash-sha256"},
		{"Domain-Name", "domain-name"},
	}
	for _, tt := range tests {
		if got := normalizeType(tt.in); got != tt.want {
			t.Errorf("normalizeType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRelevantNames(t *testing.T) {
	entries := []feedEntry{{Name: "APT28"}, {Name: "Sandworm"}, {Name: "Turla"}}

	misp := relevantNames(store.SourceMISP, entries)
	if !misp["APT28"] || misp["Sandworm"] {
		t.Errorf("misp focus = %v", misp)
	}

	// Unmapped source types take everything
	all := relevantNames(store.SourceSTIXFeed, entries)
	for _, e := range entries {
		if !all[e.Name] {
			t.Errorf("stix_feed focus missing %s", e.Name)
		}
	}
}

func TestFetch(t *testing.T) {
	var (
		mu     sync.Mutex
		stored []map[string]interface{}
	)
	docs := newDocStore(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_doc") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		doc := readJSON(t, r)
		mu.Lock()
		stored = append(stored, doc)
		id := len(stored)
		mu.Unlock()
		fmt.Fprintf(w, `{"_id":"ioc-%d","result":"created"}`, id)
	})

	apts := newFakeAPTs(map[int64]string{7: "APT28"})
	sources := newFakeSources(&store.IoCSource{
		ID: 3, Name: "lab-misp", SourceType: store.SourceMISP, IsEnabled: true,
	})
	iocs := NewService(docs, apts)
	fetcher := NewFetcher(sources, apts, iocs, writeFeed(t, testFeed))

	res, err := fetcher.Fetch(context.Background(), 3)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Status != "success" {
		t.Errorf("Status = %q", res.Status)
	}
	// Sandworm is outside the MISP focus, the registry key is an unknown
	// type: only the two APT28 network indicators land.
	if res.Added != 2 || res.Failed != 0 {
		t.Errorf("Added/Failed = %d/%d, want 2/0", res.Added, res.Failed)
	}
	if len(sources.fetched) != 1 || sources.fetched[0] != 3 {
		t.Errorf("fetched = %v, want [3]", sources.fetched)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stored) != 2 {
		t.Fatalf("stored %d docs, want 2", len(stored))
	}
	first := stored[0]
	if first["value"] != "198.51.100.7" || first["type"] != TypeIPv4 {
		t.Errorf("first doc = %v", first)
	}
	if first["source_name"] != "lab-misp" {
		t.Errorf("source_name = %v", first["source_name"])
	}
	ids, ok := first["attributed_apt_group_ids"].([]interface{})
	if !ok || len(ids) != 1 || ids[0] != float64(7) {
		t.Errorf("attributed_apt_group_ids = %v, want [7]", first["attributed_apt_group_ids"])
	}
	if stored[1]["is_active"] != false {
		t.Errorf("second doc is_active = %v, want false", stored[1]["is_active"])
	}
}

func TestFetch_CreatesMissingGroups(t *testing.T) {
	docs := newDocStore(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"_id":"ioc-1","result":"created"}`)
	})

	apts := newFakeAPTs(nil)
	sources := newFakeSources(&store.IoCSource{
		ID: 4, Name: "feeds", SourceType: store.SourceSTIXFeed, IsEnabled: true,
	})
	fetcher := NewFetcher(sources, apts, NewService(docs, apts), writeFeed(t, testFeed))

	if _, err := fetcher.Fetch(context.Background(), 4); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for _, name := range []string{"APT28", "Sandworm"} {
		if _, err := apts.GetByName(context.Background(), name); err != nil {
			t.Errorf("group %s not created: %v", name, err)
		}
	}
	group, err := apts.GetByName(context.Background(), "APT28")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if group.CountryOfOrigin != "RU" || group.FirstObserved == nil {
		t.Errorf("group = %+v", group)
	}
}

func TestFetch_InternalSourceOnlyStamps(t *testing.T) {
	docs := newDocStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %q", r.URL.Path)
	})
	sources := newFakeSources(&store.IoCSource{
		ID: 5, Name: "manual", SourceType: store.SourceInternal, IsEnabled: true,
	})
	fetcher := NewFetcher(sources, newFakeAPTs(nil), NewService(docs, newFakeAPTs(nil)), "does-not-exist.json")

	res, err := fetcher.Fetch(context.Background(), 5)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Status != "success" || res.Added != 0 {
		t.Errorf("res = %+v", res)
	}
	if len(sources.fetched) != 1 {
		t.Errorf("fetched = %v, want one stamp", sources.fetched)
	}
}

func TestFetch_DisabledSource(t *testing.T) {
	sources := newFakeSources(&store.IoCSource{
		ID: 6, Name: "stale", SourceType: store.SourceMISP, IsEnabled: false,
	})
	fetcher := NewFetcher(sources, newFakeAPTs(nil), nil, "feed.json")

	_, err := fetcher.Fetch(context.Background(), 6)
	if !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("err = %v, want ErrPreconditionFailed", err)
	}
	if len(sources.fetched) != 0 {
		t.Error("disabled source was stamped")
	}
}

func TestFetch_UnknownSource(t *testing.T) {
	fetcher := NewFetcher(newFakeSources(), newFakeAPTs(nil), nil, "feed.json")

	if _, err := fetcher.Fetch(context.Background(), 99); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetch_MissingFeedFile(t *testing.T) {
	sources := newFakeSources(&store.IoCSource{
		ID: 7, Name: "lab-misp", SourceType: store.SourceMISP, IsEnabled: true,
	})
	fetcher := NewFetcher(sources, newFakeAPTs(nil), nil, filepath.Join(t.TempDir(), "absent.json"))

	_, err := fetcher.Fetch(context.Background(), 7)
	if err == nil || !strings.Contains(err.Error(), "reading threat feed") {
		t.Errorf("err = %v, want feed read failure", err)
	}
	if len(sources.fetched) != 0 {
		t.Error("failed fetch was stamped")
	}
}

func TestFetch_MalformedFeed(t *testing.T) {
	sources := newFakeSources(&store.IoCSource{
		ID: 8, Name: "lab-misp", SourceType: store.SourceMISP, IsEnabled: true,
	})
	fetcher := NewFetcher(sources, newFakeAPTs(nil), nil, writeFeed(t, `{"not": "a list"}`))

	_, err := fetcher.Fetch(context.Background(), 8)
	if err == nil || !strings.Contains(err.Error(), "parsing threat feed") {
		t.Errorf("err = %v, want feed parse failure", err)
	}
}
