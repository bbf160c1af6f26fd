package correlation

import (
	"context"
	"sort"

	"github.com/edgewatch/edgewatch/pkg/store"
)

// OffenceAnalytics is the slice of the offence repository the dashboard
// reads.
type OffenceAnalytics interface {
	SummaryBySeverity(ctx context.Context, daysBack int) ([]store.SeverityCount, error)
	Recent(ctx context.Context, n int) ([]store.Offence, error)
	ByAPT(ctx context.Context, daysBack int) ([]store.APTOffenceCount, error)
	MatchedIoCSince(ctx context.Context, daysBack int) ([]store.JSONMap, error)
}

// TopIoC is one row of the most-triggered-IoCs report.
type TopIoC struct {
	Value string `json:"value"`
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Dashboard answers the offence read queries the UI and CLI surface.
// Severity and APT groupings run in SQL; top IoCs aggregate in-process
// because the matched IoC lives inside a JSON column.
type Dashboard struct {
	offences OffenceAnalytics
}

// NewDashboard wires the dashboard over the offence repository.
func NewDashboard(offences OffenceAnalytics) *Dashboard {
	return &Dashboard{offences: offences}
}

// SummaryBySeverity counts offences per severity over the last daysBack days.
func (d *Dashboard) SummaryBySeverity(ctx context.Context, daysBack int) ([]store.SeverityCount, error) {
	return d.offences.SummaryBySeverity(ctx, daysBack)
}

// Recent returns the n most recently detected offences.
func (d *Dashboard) Recent(ctx context.Context, n int) ([]store.Offence, error) {
	return d.offences.Recent(ctx, n)
}

// ByAPT counts offences per attributed APT group over the last daysBack days.
func (d *Dashboard) ByAPT(ctx context.Context, daysBack int) ([]store.APTOffenceCount, error) {
	return d.offences.ByAPT(ctx, daysBack)
}

// TopIoCs ranks the IoC values that triggered offences over the last
// daysBack days, most frequent first, capped at n rows.
func (d *Dashboard) TopIoCs(ctx context.Context, daysBack, n int) ([]TopIoC, error) {
	details, err := d.offences.MatchedIoCSince(ctx, daysBack)
	if err != nil {
		return nil, err
	}

	byValue := map[string]*TopIoC{}
	for _, m := range details {
		value, ok := m["value"].(string)
		if !ok || value == "" {
			continue
		}
		row, seen := byValue[value]
		if !seen {
			row = &TopIoC{Value: value}
			if t, ok := m["type"].(string); ok {
				row.Type = t
			}
			byValue[value] = row
		}
		row.Count++
	}

	out := make([]TopIoC, 0, len(byValue))
	for _, row := range byValue {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
