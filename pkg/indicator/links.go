package indicator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Attribution is mutated store-side with scripted updates so concurrent
// link/unlink calls serialize on the document, not in this process.
const (
	linkScript = `if (ctx._source.attributed_apt_group_ids == null) { ctx._source.attributed_apt_group_ids = new ArrayList(); } if (!ctx._source.attributed_apt_group_ids.contains(params.apt_id)) { ctx._source.attributed_apt_group_ids.add(params.apt_id); ctx._source.updated_at_siem = params.now; } else { ctx.op = 'noop'; }`

	unlinkScript = `if (ctx._source.attributed_apt_group_ids != null && ctx._source.attributed_apt_group_ids.contains(params.apt_id)) { ArrayList kept = new ArrayList(); for (int id : ctx._source.attributed_apt_group_ids) { if (id != params.apt_id) { kept.add(id); } } ctx._source.attributed_apt_group_ids = kept; ctx._source.updated_at_siem = params.now; } else { ctx.op = 'noop'; }`
)

// LinkToAPT adds an APT group id to an IoC's attribution if it is not
// already present, and returns the refreshed document. Linking an already
// linked group is a no-op. Derived tags are not recomputed here; they catch
// up on the next update.
func (s *Service) LinkToAPT(ctx context.Context, iocID string, aptID int64) (*IoC, error) {
	if _, err := s.apts.Get(ctx, aptID); err != nil {
		return nil, err
	}
	hit, err := s.locate(ctx, iocID)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"script": map[string]interface{}{
			"source": linkScript,
			"lang":   "painless",
			"params": map[string]interface{}{
				"apt_id": aptID,
				"now":    time.Now().UTC().Format(time.RFC3339Nano),
			},
		},
	}
	if err := s.docs.Update(ctx, hit.Index, iocID, body); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"id":           iocID,
		"apt_group_id": aptID,
	}).Info("Linked IoC to APT group")
	return s.Get(ctx, iocID)
}

// UnlinkAPTEverywhere removes an APT group id from the attribution of every
// IoC document across the daily indices, returning how many documents
// changed.
func (s *Service) UnlinkAPTEverywhere(ctx context.Context, aptID int64) (int64, error) {
	body := map[string]interface{}{
		"script": map[string]interface{}{
			"source": unlinkScript,
			"lang":   "painless",
			"params": map[string]interface{}{
				"apt_id": aptID,
				"now":    time.Now().UTC().Format(time.RFC3339Nano),
			},
		},
		"query": map[string]interface{}{
			"term": map[string]interface{}{"attributed_apt_group_ids": aptID},
		},
	}
	updated, err := s.docs.UpdateByQuery(ctx, []string{IOCIndexPattern}, body)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.log.WithFields(logrus.Fields{
			"apt_group_id": aptID,
			"documents":    updated,
		}).Info("Removed APT attribution from IoC documents")
	}
	return updated, nil
}

// PurgeAPTGroup scrubs a group's id from every IoC document, then deletes
// the group row. A failed scrub is logged and the delete proceeds: a dead
// group must not survive because the document store was unreachable, and
// stale ids resolve to nothing afterwards.
func (s *Service) PurgeAPTGroup(ctx context.Context, aptID int64) error {
	if _, err := s.apts.Get(ctx, aptID); err != nil {
		return err
	}
	if _, err := s.UnlinkAPTEverywhere(ctx, aptID); err != nil {
		s.log.WithError(err).WithField("apt_group_id", aptID).
			Warn("Could not scrub APT attribution from IoC documents; deleting the group anyway")
	}
	return s.apts.Delete(ctx, aptID)
}
