package readiness

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/riskmate/riskmate/internal/db/repositories"
)

// ErrInvalidFilter wraps every filter validation failure
var ErrInvalidFilter = errors.New("invalid readiness filter")

// Time ranges
const (
	Range7d  = "7d"
	Range30d = "30d"
	Range90d = "90d"
	RangeAll = "all"
)

// Sort modes
const (
	SortSeverity = "severity"
	SortOldest   = "oldest"
	SortRisk     = "risk"
)

// Item statuses
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusWaived     = "waived"
	StatusResolved   = "resolved"
)

var rangeDurations = map[string]time.Duration{
	Range7d:  7 * 24 * time.Hour,
	Range30d: 30 * 24 * time.Hour,
	Range90d: 90 * 24 * time.Hour,
}

var (
	validSorts    = []string{SortSeverity, SortOldest, SortRisk}
	validStatuses = []string{StatusOpen, StatusInProgress, StatusWaived, StatusResolved}
	validSeverity = []string{"critical", "material", "info"}
)

// Filters narrows a readiness computation. Empty fields and "all" mean
// unconstrained.
type Filters struct {
	Category  string `json:"category,omitempty"`
	TimeRange string `json:"time_range"`
	Severity  string `json:"severity,omitempty"`
	Status    string `json:"status,omitempty"`
	Sort      string `json:"sort"`
}

// Normalize lowercases every field, maps "all" to empty for the enum
// filters, fills defaults and validates.
func (f Filters) Normalize() (Filters, error) {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "all" {
			return ""
		}
		return s
	}

	out := Filters{
		Category: norm(f.Category),
		Severity: norm(f.Severity),
		Status:   norm(f.Status),
		Sort:     strings.ToLower(strings.TrimSpace(f.Sort)),
	}
	out.TimeRange = strings.ToLower(strings.TrimSpace(f.TimeRange))
	if out.TimeRange == "" {
		out.TimeRange = RangeAll
	}
	if out.Sort == "" {
		out.Sort = SortSeverity
	}

	if out.Category != "" && !slices.Contains(repositories.DeficiencyCategories, out.Category) {
		return Filters{}, fmt.Errorf("%w: unknown category %q", ErrInvalidFilter, f.Category)
	}
	if _, ok := rangeDurations[out.TimeRange]; !ok && out.TimeRange != RangeAll {
		return Filters{}, fmt.Errorf("%w: time_range must be one of 7d, 30d, 90d, all", ErrInvalidFilter)
	}
	if out.Severity != "" && !slices.Contains(validSeverity, out.Severity) {
		return Filters{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidFilter, f.Severity)
	}
	if out.Status != "" && !slices.Contains(validStatuses, out.Status) {
		return Filters{}, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	if !slices.Contains(validSorts, out.Sort) {
		return Filters{}, fmt.Errorf("%w: sort must be one of severity, oldest, risk", ErrInvalidFilter)
	}
	return out, nil
}

// Since returns the lower creation bound for the time range, or nil for all
func (f Filters) Since(now time.Time) *time.Time {
	d, ok := rangeDurations[f.TimeRange]
	if !ok {
		return nil
	}
	t := now.Add(-d).UTC()
	return &t
}

// cacheKey is stable for normalized filters
func (f Filters) cacheKey() string {
	return strings.Join([]string{"readiness", f.Category, f.TimeRange, f.Severity, f.Status, f.Sort}, "|")
}
