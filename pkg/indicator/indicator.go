// Package indicator manages IoC documents in the document store: CRUD over
// the daily siem-iocs indices, APT attribution with derived tags, and the
// aggregations behind the threat dashboard. The relational store stays the
// authority for APT group rows; this package only embeds their ids and
// derived tags into the documents.
package indicator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/edgewatch/edgewatch/pkg/eventstore"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

// IoC types.
const (
	TypeIPv4   = "ipv4-addr"
	TypeIPv6   = "ipv6-addr"
	TypeDomain = "domain-name"
	TypeURL    = "url"
	TypeMD5    = "file-hash-md5"
	TypeSHA1   = "file-hash-sha1"
	TypeSHA256 = "file-hash-sha256"
	TypeEmail  = "email-addr"
)

// IOCIndexPattern addresses every daily IoC index at once.
const IOCIndexPattern = eventstore.IOCIndexPrefix + "-*"

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	// findByValueLimit bounds exact-value lookups. Duplicates of the same
	// value can exist across daily indices.
	findByValueLimit = 100
)

var validTypes = map[string]bool{
	TypeIPv4:   true,
	TypeIPv6:   true,
	TypeDomain: true,
	TypeURL:    true,
	TypeMD5:    true,
	TypeSHA1:   true,
	TypeSHA256: true,
	TypeEmail:  true,
}

// ValidType reports whether t is a recognized IoC type.
func ValidType(t string) bool {
	return validTypes[t]
}

// IoC is one indicator document. Field names mirror the stored document so
// hits decode directly.
type IoC struct {
	ID          string     `json:"ioc_id,omitempty"`
	Value       string     `json:"value"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	SourceName  string     `json:"source_name,omitempty"`
	IsActive    bool       `json:"is_active"`
	Confidence  *int       `json:"confidence,omitempty"`
	Tags        []string   `json:"tags"`
	FirstSeen   *time.Time `json:"first_seen,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	APTGroupIDs []int64    `json:"attributed_apt_group_ids"`
	CreatedAt   time.Time  `json:"created_at_siem,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at_siem,omitempty"`
}

// Patch carries a partial IoC update. Nil fields keep the stored value; a
// non-nil empty APTGroupIDs slice clears the attribution.
type Patch struct {
	Value       *string
	Type        *string
	Description *string
	SourceName  *string
	IsActive    *bool
	Confidence  *int
	Tags        []string
	FirstSeen   *time.Time
	LastSeen    *time.Time
	APTGroupIDs []int64
}

// APTDirectory is the slice of the relational store this package needs:
// resolving attributed group ids for tag derivation, and removing a group
// once its attribution has been scrubbed from the documents.
type APTDirectory interface {
	Get(ctx context.Context, id int64) (*store.APTGroup, error)
	Delete(ctx context.Context, id int64) error
}

// Service manages IoC documents.
type Service struct {
	docs *eventstore.Store
	apts APTDirectory
	log  *logrus.Entry
}

// NewService builds an indicator service over the document store and the
// APT group directory.
func NewService(docs *eventstore.Store, apts APTDirectory) *Service {
	return &Service{
		docs: docs,
		apts: apts,
		log:  util.WithComponent("indicator"),
	}
}

// ParseTime parses an ISO-8601 datetime. Zone-less values are taken as UTC,
// date-only values as midnight UTC.
func ParseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized datetime %q", util.ErrValidationFailed, s)
}

// safeTagName makes an APT group name usable inside a tag: every
// non-alphanumeric rune becomes an underscore, then the result is lowercased.
func safeTagName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.ToLower(b.String())
}

func sortedUniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// validAPTIDs drops ids that have no group row, logging each skip. An IoC
// never carries attribution the directory cannot name.
func (s *Service) validAPTIDs(ctx context.Context, value string, ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range sortedUniqueIDs(ids) {
		if _, err := s.apts.Get(ctx, id); err != nil {
			s.log.WithFields(logrus.Fields{
				"apt_group_id": id,
				"value":        value,
			}).Warn("Skipping unknown APT group id on IoC")
			continue
		}
		out = append(out, id)
	}
	return out
}

// deriveTags unions apt:<safe-name> and apt_id:<id> tags for every attributed
// group onto the base tags. The result is sorted and deduplicated. Tags from
// attributions removed later are not retracted; tags only grow.
func (s *Service) deriveTags(ctx context.Context, base []string, aptIDs []int64) []string {
	set := make(map[string]bool, len(base)+2*len(aptIDs))
	for _, t := range base {
		if t != "" {
			set[t] = true
		}
	}
	for _, id := range aptIDs {
		group, err := s.apts.Get(ctx, id)
		if err != nil {
			continue
		}
		set["apt:"+safeTagName(group.Name)] = true
		set["apt_id:"+strconv.FormatInt(id, 10)] = true
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func validateIoC(ioc *IoC) error {
	v := &util.ValidationBuilder{}
	v.Add(ioc.Value != "", "value is required")
	v.Add(ValidType(ioc.Type), fmt.Sprintf("type %q is not a recognized IoC type", ioc.Type))
	if ioc.Confidence != nil {
		v.Add(*ioc.Confidence >= 0 && *ioc.Confidence <= 100, "confidence must be between 0 and 100")
	}
	return v.Build()
}

// document flattens an IoC into the stored document shape. @timestamp routes
// the daily index: last_seen, then first_seen, then now.
func document(ioc *IoC) map[string]interface{} {
	eventTime := ioc.UpdatedAt
	switch {
	case ioc.LastSeen != nil:
		eventTime = *ioc.LastSeen
	case ioc.FirstSeen != nil:
		eventTime = *ioc.FirstSeen
	}

	doc := map[string]interface{}{
		"value":                    ioc.Value,
		"type":                     ioc.Type,
		"is_active":                ioc.IsActive,
		"tags":                     ioc.Tags,
		"attributed_apt_group_ids": ioc.APTGroupIDs,
		"created_at_siem":          ioc.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at_siem":          ioc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"@timestamp":               eventTime.UTC().Format(time.RFC3339Nano),
	}
	if ioc.Description != "" {
		doc["description"] = ioc.Description
	}
	if ioc.SourceName != "" {
		doc["source_name"] = ioc.SourceName
	}
	if ioc.Confidence != nil {
		doc["confidence"] = *ioc.Confidence
	}
	if ioc.FirstSeen != nil {
		doc["first_seen"] = ioc.FirstSeen.UTC().Format(time.RFC3339Nano)
	}
	if ioc.LastSeen != nil {
		doc["last_seen"] = ioc.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func decodeHit(h eventstore.Hit) (*IoC, error) {
	var ioc IoC
	if err := h.Decode(&ioc); err != nil {
		return nil, fmt.Errorf("decoding IoC document %s: %w", h.ID, err)
	}
	ioc.ID = h.ID
	if ioc.Tags == nil {
		ioc.Tags = []string{}
	}
	if ioc.APTGroupIDs == nil {
		ioc.APTGroupIDs = []int64{}
	}
	return &ioc, nil
}

func (s *Service) decodeHits(hits []eventstore.Hit) []IoC {
	out := make([]IoC, 0, len(hits))
	for _, h := range hits {
		ioc, err := decodeHit(h)
		if err != nil {
			s.log.WithError(err).WithField("id", h.ID).Warn("Dropping undecodable IoC document")
			continue
		}
		out = append(out, *ioc)
	}
	return out
}

// Add stores a new IoC. APT ids without a group row are dropped, tags are
// derived from the surviving attribution, and the returned IoC carries the
// store-assigned id.
func (s *Service) Add(ctx context.Context, ioc *IoC) (*IoC, error) {
	if err := validateIoC(ioc); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored := *ioc
	stored.APTGroupIDs = s.validAPTIDs(ctx, ioc.Value, ioc.APTGroupIDs)
	stored.Tags = s.deriveTags(ctx, ioc.Tags, stored.APTGroupIDs)
	stored.CreatedAt = now
	stored.UpdatedAt = now

	id, err := s.docs.WriteDocument(ctx, eventstore.IOCIndexPrefix, document(&stored))
	if err != nil {
		return nil, err
	}
	stored.ID = id

	s.log.WithFields(logrus.Fields{
		"id":    id,
		"value": stored.Value,
		"type":  stored.Type,
	}).Info("Stored IoC")
	return &stored, nil
}

// locate finds the hit for a store id. Daily sharding means the hosting
// index is only known by searching the whole pattern.
func (s *Service) locate(ctx context.Context, id string) (*eventstore.Hit, error) {
	res, err := s.docs.Search(ctx, []string{IOCIndexPattern}, map[string]interface{}{
		"query": map[string]interface{}{
			"ids": map[string]interface{}{"values": []string{id}},
		},
		"size": 1,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Hits.Hits) == 0 {
		return nil, fmt.Errorf("%w: IoC %s", util.ErrNotFound, id)
	}
	return &res.Hits.Hits[0], nil
}

// Get fetches one IoC by its store id.
func (s *Service) Get(ctx context.Context, id string) (*IoC, error) {
	hit, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeHit(*hit)
}

// Update merges a partial patch into an existing IoC, revalidates the APT
// attribution and recomputes derived tags, then writes the merged document
// back to its hosting index.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*IoC, error) {
	hit, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err := decodeHit(*hit)
	if err != nil {
		return nil, err
	}

	if patch.Value != nil {
		current.Value = *patch.Value
	}
	if patch.Type != nil {
		current.Type = *patch.Type
	}
	if patch.Description != nil {
		current.Description = *patch.Description
	}
	if patch.SourceName != nil {
		current.SourceName = *patch.SourceName
	}
	if patch.IsActive != nil {
		current.IsActive = *patch.IsActive
	}
	if patch.Confidence != nil {
		current.Confidence = patch.Confidence
	}
	if patch.Tags != nil {
		current.Tags = patch.Tags
	}
	if patch.FirstSeen != nil {
		current.FirstSeen = patch.FirstSeen
	}
	if patch.LastSeen != nil {
		current.LastSeen = patch.LastSeen
	}
	if patch.APTGroupIDs != nil {
		current.APTGroupIDs = s.validAPTIDs(ctx, current.Value, patch.APTGroupIDs)
	}
	if err := validateIoC(current); err != nil {
		return nil, err
	}

	current.Tags = s.deriveTags(ctx, current.Tags, current.APTGroupIDs)
	current.UpdatedAt = time.Now().UTC()

	body := map[string]interface{}{"doc": document(current)}
	if err := s.docs.Update(ctx, hit.Index, id, body); err != nil {
		return nil, err
	}
	return current, nil
}

// Deactivate soft-retires an IoC without touching the rest of the document.
func (s *Service) Deactivate(ctx context.Context, id string) (*IoC, error) {
	active := false
	return s.Update(ctx, id, Patch{IsActive: &active})
}

// Delete removes an IoC document, locating its hosting index first. A
// document that disappears between locate and delete still counts as
// deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	hit, err := s.locate(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, hit.Index, id); err != nil && !errors.Is(err, util.ErrNotFound) {
		return err
	}
	s.log.WithFields(logrus.Fields{"id": id, "index": hit.Index}).Info("Deleted IoC")
	return nil
}

// FindByValue looks up IoCs by exact value, optionally narrowed by type.
func (s *Service) FindByValue(ctx context.Context, value, iocType string) ([]IoC, error) {
	must := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"value.keyword": value}},
	}
	if iocType != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"type": iocType}})
	}
	res, err := s.docs.Search(ctx, []string{IOCIndexPattern}, map[string]interface{}{
		"query": map[string]interface{}{"bool": map[string]interface{}{"must": must}},
		"size":  findByValueLimit,
	})
	if err != nil {
		return nil, err
	}
	return s.decodeHits(res.Hits.Hits), nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

// recencySort orders IoCs newest first. unmapped_type keeps the query valid
// on days whose index has not seen the field yet.
func recencySort() []interface{} {
	return []interface{}{
		map[string]interface{}{"updated_at_siem": map[string]interface{}{"order": "desc", "unmapped_type": "date"}},
		map[string]interface{}{"created_at_siem": map[string]interface{}{"order": "desc", "unmapped_type": "date"}},
	}
}

func (s *Service) list(ctx context.Context, query interface{}, sortSpec []interface{}, skip, limit int) ([]IoC, error) {
	if skip < 0 {
		skip = 0
	}
	res, err := s.docs.Search(ctx, []string{IOCIndexPattern}, map[string]interface{}{
		"query": query,
		"from":  skip,
		"size":  clampLimit(limit),
		"sort":  sortSpec,
	})
	if err != nil {
		return nil, err
	}
	return s.decodeHits(res.Hits.Hits), nil
}

// List pages through every IoC, newest first.
func (s *Service) List(ctx context.Context, skip, limit int) ([]IoC, error) {
	return s.list(ctx, map[string]interface{}{"match_all": map[string]interface{}{}}, recencySort(), skip, limit)
}

// ListCreatedToday pages through the IoCs first stored today (UTC).
func (s *Service) ListCreatedToday(ctx context.Context, skip, limit int) ([]IoC, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	query := map[string]interface{}{
		"range": map[string]interface{}{
			"created_at_siem": map[string]interface{}{
				"gte": start.Format(time.RFC3339),
				"lt":  start.AddDate(0, 0, 1).Format(time.RFC3339),
			},
		},
	}
	sortSpec := []interface{}{
		map[string]interface{}{"created_at_siem": map[string]interface{}{"order": "desc"}},
	}
	return s.list(ctx, query, sortSpec, skip, limit)
}

// ListByAPT pages through the IoCs attributed to one APT group.
func (s *Service) ListByAPT(ctx context.Context, aptID int64, skip, limit int) ([]IoC, error) {
	query := map[string]interface{}{
		"term": map[string]interface{}{"attributed_apt_group_ids": aptID},
	}
	return s.list(ctx, query, recencySort(), skip, limit)
}
