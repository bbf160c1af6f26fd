package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

// feedIoC and feedEntry are the shapes of the threat feed file: a list of
// APT entries, each carrying its observed indicators.
type feedIoC struct {
	Value       string   `json:"value"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	IsActive    *bool    `json:"is_active"`
	Confidence  *int     `json:"confidence"`
	Tags        []string `json:"tags"`
}

type feedEntry struct {
	Name              string    `json:"name"`
	Aliases           []string  `json:"aliases"`
	Description       string    `json:"description"`
	Sophistication    string    `json:"sophistication"`
	PrimaryMotivation string    `json:"primary_motivation"`
	TargetSectors     []string  `json:"target_sectors"`
	CountryOfOrigin   string    `json:"country_of_origin"`
	FirstObserved     string    `json:"first_observed"`
	LastObserved      string    `json:"last_observed"`
	References        []string  `json:"references"`
	IoCs              []feedIoC `json:"iocs"`
}

// FetchResult reports one fetch run.
type FetchResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Added   int    `json:"added_iocs"`
	Failed  int    `json:"failed_iocs"`
}

// APTRegistry extends the directory with the lookups the fetcher needs to
// create groups named by a feed.
type APTRegistry interface {
	APTDirectory
	GetByName(ctx context.Context, name string) (*store.APTGroup, error)
	Create(ctx context.Context, g *store.APTGroup) (*store.APTGroup, error)
}

// SourceRegistry is the slice of the relational store holding IoC sources.
type SourceRegistry interface {
	Get(ctx context.Context, id int64) (*store.IoCSource, error)
	MarkFetched(ctx context.Context, id int64) error
}

// Fetcher pulls indicators from a registered source into the document store.
type Fetcher struct {
	sources  SourceRegistry
	apts     APTRegistry
	iocs     *Service
	feedPath string
	log      *logrus.Entry
}

// NewFetcher builds a fetcher reading the feed file at feedPath.
func NewFetcher(sources SourceRegistry, apts APTRegistry, iocs *Service, feedPath string) *Fetcher {
	return &Fetcher{
		sources:  sources,
		apts:     apts,
		iocs:     iocs,
		feedPath: feedPath,
		log:      util.WithComponent("fetch"),
	}
}

// sourceFocus narrows which feed entries a source type sees. Types absent
// from the map take the whole feed.
var sourceFocus = map[string][]string{
	store.SourceMISP:    {"APT28", "Gamaredon"},
	store.SourceOpenCTI: {"Sandworm", "Turla"},
}

func relevantNames(sourceType string, entries []feedEntry) map[string]bool {
	names := make(map[string]bool, len(entries))
	if focus, ok := sourceFocus[sourceType]; ok {
		for _, name := range focus {
			names[name] = true
		}
		return names
	}
	for _, e := range entries {
		names[e.Name] = true
	}
	return names
}

func (f *Fetcher) loadFeed() ([]feedEntry, error) {
	data, err := os.ReadFile(f.feedPath)
	if err != nil {
		return nil, fmt.Errorf("reading threat feed: %w", err)
	}
	var entries []feedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing threat feed: %w", err)
	}
	return entries, nil
}

func parseObserved(s string) *time.Time {
	if s == "" {
		return nil
	}
	ts, err := ParseTime(s)
	if err != nil {
		return nil
	}
	return &ts
}

// ensureGroups creates any feed APT group missing from the registry and
// returns a name→id map for every group it could resolve.
func (f *Fetcher) ensureGroups(ctx context.Context, entries []feedEntry) map[string]int64 {
	ids := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		group, err := f.apts.GetByName(ctx, e.Name)
		if err == nil {
			ids[e.Name] = group.ID
			continue
		}

		created, err := f.apts.Create(ctx, &store.APTGroup{
			Name:              e.Name,
			Aliases:           e.Aliases,
			Description:       e.Description,
			Sophistication:    e.Sophistication,
			PrimaryMotivation: e.PrimaryMotivation,
			TargetSectors:     e.TargetSectors,
			CountryOfOrigin:   e.CountryOfOrigin,
			FirstObserved:     parseObserved(e.FirstObserved),
			LastObserved:      parseObserved(e.LastObserved),
			ReferenceURLs:     e.References,
		})
		if err != nil {
			f.log.WithError(err).WithField("apt_group", e.Name).Warn("Could not create APT group from feed")
			continue
		}
		f.log.WithFields(logrus.Fields{
			"apt_group":    created.Name,
			"apt_group_id": created.ID,
		}).Info("Created APT group from feed")
		ids[e.Name] = created.ID
	}
	return ids
}

// normalizeType maps feed type spellings onto the canonical IoC types:
// lowercased, underscores to hyphens.
func normalizeType(t string) string {
	return strings.ReplaceAll(strings.ToLower(t), "_", "-")
}

// Fetch pulls indicators for one source. Internal sources hold manually
// curated IoCs and are only stamped, never fed. Indicators that fail to
// store are counted, not fatal.
func (f *Fetcher) Fetch(ctx context.Context, sourceID int64) (*FetchResult, error) {
	src, err := f.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !src.IsEnabled {
		return nil, fmt.Errorf("%w: source %q is disabled", util.ErrPreconditionFailed, src.Name)
	}

	if src.SourceType == store.SourceInternal {
		if err := f.sources.MarkFetched(ctx, sourceID); err != nil {
			return nil, err
		}
		return &FetchResult{
			Status:  "success",
			Message: fmt.Sprintf("source %q is internal, nothing to fetch", src.Name),
		}, nil
	}

	entries, err := f.loadFeed()
	if err != nil {
		return nil, err
	}

	f.log.WithFields(logrus.Fields{
		"source":  src.Name,
		"type":    src.SourceType,
		"entries": len(entries),
	}).Info("Fetching indicators")

	groupIDs := f.ensureGroups(ctx, entries)
	relevant := relevantNames(src.SourceType, entries)
	now := time.Now().UTC()

	added, failed := 0, 0
	for _, entry := range entries {
		if !relevant[entry.Name] {
			continue
		}
		var attribution []int64
		if id, ok := groupIDs[entry.Name]; ok {
			attribution = []int64{id}
		}

		for _, fi := range entry.IoCs {
			iocType := normalizeType(fi.Type)
			if !ValidType(iocType) {
				f.log.WithFields(logrus.Fields{
					"value": fi.Value,
					"type":  fi.Type,
				}).Warn("Skipping feed IoC with unrecognized type")
				continue
			}

			active := true
			if fi.IsActive != nil {
				active = *fi.IsActive
			}
			firstSeen, lastSeen := now, now
			_, err := f.iocs.Add(ctx, &IoC{
				Value:       fi.Value,
				Type:        iocType,
				Description: fi.Description,
				SourceName:  src.Name,
				IsActive:    active,
				Confidence:  fi.Confidence,
				Tags:        fi.Tags,
				FirstSeen:   &firstSeen,
				LastSeen:    &lastSeen,
				APTGroupIDs: attribution,
			})
			if err != nil {
				failed++
				f.log.WithError(err).WithField("value", fi.Value).Warn("Could not store feed IoC")
				continue
			}
			added++
		}
	}

	if err := f.sources.MarkFetched(ctx, sourceID); err != nil {
		return nil, err
	}
	return &FetchResult{
		Status:  "success",
		Message: fmt.Sprintf("fetched from %q: added %d, failed %d", src.Name, added, failed),
		Added:   added,
		Failed:  failed,
	}, nil
}
