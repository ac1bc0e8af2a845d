// Package readiness computes the audit-ready score and the list of blocking
// deficiencies for an organization. Results are derived on demand from the
// operational tables and the ledger; the package never writes.
package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/riskmate/riskmate/internal/cache"
	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/db/repositories"
	"github.com/riskmate/riskmate/internal/telemetry"
)

// Score penalties per open item
var severityPenalty = map[string]int{
	"critical": 10,
	"material": 5,
	"info":     1,
}

var severityRank = map[string]int{
	"critical": 0,
	"material": 1,
	"info":     2,
}

// fixActions maps a deficiency kind to the UI action that resolves it
var fixActions = map[string]string{
	"missing_evidence":       "upload_evidence",
	"failing_control":        "complete_control",
	"overdue_control":        "complete_control",
	"unsigned_attestation":   "request_attestation",
	"open_corrective_action": "close_corrective_action",
	"flagged_job":            "review_flagged_job",
	"overdue_access_review":  "complete_access_review",
	"role_violation":         "review_access",
}

// Source lists open deficiencies in discovery order
type Source interface {
	ListDeficiencies(ctx context.Context, q repositories.DeficiencyQuery) ([]models.DeficiencyRow, error)
}

// Item is one derived deficiency
type Item struct {
	ID            string     `json:"id"`
	Category      string     `json:"category"`
	Kind          string     `json:"kind"`
	Title         string     `json:"title"`
	Severity      string     `json:"severity"`
	Status        string     `json:"status"`
	FixActionType string     `json:"fix_action_type"`
	JobID         *string    `json:"job_id"`
	SiteID        *string    `json:"site_id"`
	DueAt         *time.Time `json:"due_at"`
	RiskScore     *float64   `json:"risk_score"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Summary is the aggregate view over the filtered items
type Summary struct {
	Score                 int                `json:"score"`
	TotalItems            int                `json:"total_items"`
	CategoryCounts        map[string]int     `json:"category_counts"`
	SeverityCounts        map[string]int     `json:"severity_counts"`
	HoursByCategory       map[string]float64 `json:"hours_by_category"`
	EstimatedHoursToClear float64            `json:"estimated_hours_to_clear"`
	EstimateIsApproximate bool               `json:"estimate_is_approximate"`
	Filters               Filters            `json:"filters"`
	GeneratedAt           time.Time          `json:"generated_at"`
}

// Result is returned by Compute
type Result struct {
	Summary Summary `json:"summary"`
	Items   []Item  `json:"items"`
}

// Aggregator computes readiness for one organization at a time
type Aggregator struct {
	source  Source
	cache   cache.Cache
	ttl     time.Duration
	weights map[string]float64
	now     func() time.Time
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithCache caches results per organization and filter set for ttl
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = c
		a.ttl = ttl
	}
}

// WithHourWeights overrides the per-category time-to-clear weights
func WithHourWeights(w map[string]float64) Option {
	return func(a *Aggregator) {
		if len(w) > 0 {
			a.weights = w
		}
	}
}

// WithClock injects the time source used for time ranges and overdue checks
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator over source
func NewAggregator(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:  source,
		cache:   cache.Nop{},
		weights: config.DefaultHourWeights(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compute returns the readiness result for orgID. Invalid filters yield an
// error wrapping ErrInvalidFilter.
func (a *Aggregator) Compute(ctx context.Context, orgID string, f Filters) (*Result, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}

	key := f.cacheKey()
	if cached, ok := a.fromCache(ctx, orgID, key); ok {
		return cached, nil
	}

	now := a.now().UTC()
	q := repositories.DeficiencyQuery{
		OrganizationID: orgID,
		Since:          f.Since(now),
		Now:            now,
	}
	if f.Category != "" {
		q.Categories = []string{f.Category}
	}

	rows, err := a.source.ListDeficiencies(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load readiness items: %w", err)
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		item := toItem(row)
		if f.Severity != "" && item.Severity != f.Severity {
			continue
		}
		if f.Status != "" && item.Status != f.Status {
			continue
		}
		items = append(items, item)
	}
	sortItems(items, f.Sort)

	res := &Result{Summary: a.summarize(items, f, now), Items: items}
	a.store(ctx, orgID, key, res)
	return res, nil
}

func (a *Aggregator) fromCache(ctx context.Context, orgID, key string) (*Result, bool) {
	data, ok, err := a.cache.Get(ctx, orgID, key)
	if err != nil {
		slog.Warn("readiness cache read failed", "org_id", orgID, "error", err)
	}
	if err != nil || !ok {
		telemetry.ReadinessCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		telemetry.ReadinessCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	telemetry.ReadinessCacheTotal.WithLabelValues("hit").Inc()
	return &res, true
}

func (a *Aggregator) store(ctx context.Context, orgID, key string, res *Result) {
	if a.ttl <= 0 {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, orgID, key, data, a.ttl); err != nil {
		slog.Warn("readiness cache write failed", "org_id", orgID, "error", err)
	}
}

func (a *Aggregator) summarize(items []Item, f Filters, now time.Time) Summary {
	s := Summary{
		CategoryCounts:        make(map[string]int, len(repositories.DeficiencyCategories)),
		SeverityCounts:        map[string]int{"critical": 0, "material": 0, "info": 0},
		HoursByCategory:       make(map[string]float64, len(repositories.DeficiencyCategories)),
		EstimateIsApproximate: true,
		Filters:               f,
		GeneratedAt:           now,
	}
	for _, c := range repositories.DeficiencyCategories {
		s.CategoryCounts[c] = 0
		s.HoursByCategory[c] = 0
	}

	penalty := 0
	for _, it := range items {
		s.CategoryCounts[it.Category]++
		s.SeverityCounts[it.Severity]++
		if !blocking(it.Status) {
			continue
		}
		penalty += severityPenalty[it.Severity]
		s.HoursByCategory[it.Category] += a.weights[it.Category]
	}

	total := 0.0
	for c, h := range s.HoursByCategory {
		s.HoursByCategory[c] = round2(h)
		total += h
	}
	s.EstimatedHoursToClear = round2(total)
	s.TotalItems = len(items)
	s.Score = max(0, min(100, 100-penalty))
	return s
}

// blocking reports whether an item with status counts against the score
func blocking(status string) bool {
	return status == StatusOpen || status == StatusInProgress
}

func toItem(row models.DeficiencyRow) Item {
	sev := row.Severity
	if _, ok := severityRank[sev]; !ok {
		sev = "material"
	}
	status := row.Status
	if status == "" {
		status = StatusOpen
	}
	risk := row.RiskScore
	if risk == nil {
		risk = metadataRiskScore(row.Metadata)
	}
	return Item{
		ID:            row.ID,
		Category:      row.Category,
		Kind:          row.Kind,
		Title:         row.Title,
		Severity:      sev,
		Status:        status,
		FixActionType: fixActions[row.Kind],
		JobID:         row.JobID,
		SiteID:        row.SiteID,
		DueAt:         row.DueAt,
		RiskScore:     risk,
		CreatedAt:     row.CreatedAt.UTC(),
	}
}

// metadataRiskScore reads metadata.risk_score as a number or numeric string
func metadataRiskScore(raw []byte) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var md map[string]interface{}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil
	}
	switch v := md["risk_score"].(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

// sortItems orders items in place. Every mode is stable so ties keep
// discovery order.
func sortItems(items []Item, mode string) {
	bySeverity := func(i, j int) bool {
		return severityRank[items[i].Severity] < severityRank[items[j].Severity]
	}

	switch mode {
	case SortOldest:
		sort.SliceStable(items, func(i, j int) bool {
			return ageKey(items[i]) < ageKey(items[j])
		})
	case SortRisk:
		sort.SliceStable(items, func(i, j int) bool {
			ri, rj := items[i].RiskScore, items[j].RiskScore
			switch {
			case ri != nil && rj != nil:
				if *ri != *rj {
					return *ri > *rj
				}
				return bySeverity(i, j)
			case ri != nil:
				return true
			case rj != nil:
				return false
			default:
				return bySeverity(i, j)
			}
		})
	default:
		sort.SliceStable(items, bySeverity)
	}
}

// ageKey is the ISO-8601 UTC timestamp used for oldest-first ordering: the
// due date when one exists, otherwise the creation time.
func ageKey(it Item) string {
	t := it.CreatedAt
	if it.DueAt != nil {
		t = *it.DueAt
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
