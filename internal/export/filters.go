package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/riskmate/riskmate/internal/db/repositories"
	"github.com/riskmate/riskmate/internal/ledger"
)

var timeRanges = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// Filters selects the ledger slice a proof pack covers. Empty values and the
// sentinel "all" leave a dimension unconstrained.
type Filters struct {
	TimeRange string `json:"time_range,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
	Category  string `json:"category,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// ActiveFilter is one constrained dimension, in display order
type ActiveFilter struct {
	Label string
	Value string
}

func isActive(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, "all")
}

// Active lists the constrained dimensions in a fixed order
func (f Filters) Active() []ActiveFilter {
	fields := []ActiveFilter{
		{"time_range", f.TimeRange},
		{"job_id", f.JobID},
		{"site_id", f.SiteID},
		{"category", f.Category},
		{"actor_id", f.ActorID},
		{"severity", f.Severity},
		{"outcome", f.Outcome},
	}
	out := make([]ActiveFilter, 0, len(fields))
	for _, af := range fields {
		if isActive(af.Value) {
			out = append(out, ActiveFilter{Label: af.Label, Value: strings.TrimSpace(af.Value)})
		}
	}
	return out
}

// ActiveFilterCount is the number shown in the "Active Filters" ribbon of
// every PDF in a pack
func ActiveFilterCount(f Filters) int {
	return len(f.Active())
}

// HasScope reports whether a job, date range or category constraint is set
func (f Filters) HasScope() bool {
	return isActive(f.JobID) || isActive(f.TimeRange) || isActive(f.Category)
}

// Normalize trims every value, clears the "all" sentinel and validates the
// enumerated dimensions.
func (f Filters) Normalize() (Filters, error) {
	clean := func(v string) string {
		if !isActive(v) {
			return ""
		}
		return strings.TrimSpace(v)
	}
	out := Filters{
		TimeRange: strings.ToLower(clean(f.TimeRange)),
		JobID:     clean(f.JobID),
		SiteID:    clean(f.SiteID),
		Category:  strings.ToLower(clean(f.Category)),
		ActorID:   clean(f.ActorID),
		Severity:  strings.ToLower(clean(f.Severity)),
		Outcome:   strings.ToLower(clean(f.Outcome)),
	}

	if out.TimeRange != "" {
		if _, ok := timeRanges[out.TimeRange]; !ok {
			return Filters{}, fmt.Errorf("time_range must be one of 7d, 30d, 90d, all")
		}
	}
	if out.Severity != "" {
		if _, ok := ledger.ParseSeverity(out.Severity); !ok {
			return Filters{}, fmt.Errorf("unknown severity %q", f.Severity)
		}
	}
	if out.Outcome != "" && out.Outcome != string(ledger.OutcomeAllowed) && out.Outcome != string(ledger.OutcomeBlocked) {
		return Filters{}, fmt.Errorf("unknown outcome %q", f.Outcome)
	}
	return out, nil
}

// EventFilters maps f onto a ledger query. Time ranges are anchored at asOf
// and the slice ends there so a rebuilt pack covers the same events. A
// category that is not a ledger category matches event names containing it.
func (f Filters) EventFilters(orgID string, asOf time.Time) repositories.EventFilters {
	ef := repositories.EventFilters{OrganizationID: orgID}
	opt := func(v string) *string {
		if !isActive(v) {
			return nil
		}
		v = strings.TrimSpace(v)
		return &v
	}

	ef.JobID = opt(f.JobID)
	ef.SiteID = opt(f.SiteID)
	ef.ActorID = opt(f.ActorID)
	ef.Severity = opt(f.Severity)
	ef.Outcome = opt(f.Outcome)
	if c := opt(f.Category); c != nil {
		if _, ok := ledger.ParseCategory(*c); ok {
			ef.Category = c
		} else {
			ef.EventNameContains = c
		}
	}

	until := asOf.UTC()
	ef.Until = &until
	if d, ok := timeRanges[strings.ToLower(strings.TrimSpace(f.TimeRange))]; ok {
		since := until.Add(-d)
		ef.Since = &since
	}
	return ef
}

// RecordScope maps f onto the operational record query used by the evidence,
// controls and attestations PDFs
func (f Filters) RecordScope(orgID string) repositories.RecordScope {
	s := repositories.RecordScope{OrganizationID: orgID}
	if isActive(f.JobID) {
		v := strings.TrimSpace(f.JobID)
		s.JobID = &v
	}
	if isActive(f.SiteID) {
		v := strings.TrimSpace(f.SiteID)
		s.SiteID = &v
	}
	return s
}
