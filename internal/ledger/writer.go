package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riskmate/riskmate/internal/audit"
	"github.com/riskmate/riskmate/internal/cache"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/safego"
	"github.com/riskmate/riskmate/internal/telemetry"
)

// DefaultMetadataMaxBytes caps the serialized metadata of one event
const DefaultMetadataMaxBytes = 8000

const (
	defaultClient = "web"
	unknownValue  = "unknown"
	asyncTimeout  = 5 * time.Second
	shipTimeout   = 10 * time.Second
)

// contextKeys are promoted from RequestContext to the top level of metadata
var contextKeys = []string{"request_id", "endpoint", "ip", "user_agent", "related_event_id"}

// EventStore persists ledger rows. It has no update or delete.
type EventStore interface {
	Insert(ctx context.Context, e *models.AuditEvent) error
}

// ActorLookup resolves the current profile of an actor inside an organization
type ActorLookup interface {
	GetMemberProfile(ctx context.Context, orgID, userID string) (*models.MemberProfile, error)
}

// RequestContext carries request correlation fields copied onto the event
type RequestContext struct {
	RequestID      string
	Endpoint       string
	IP             string
	UserAgent      string
	RelatedEventID string
}

func (rc RequestContext) values() []string {
	return []string{rc.RequestID, rc.Endpoint, rc.IP, rc.UserAgent, rc.RelatedEventID}
}

// Entry is one ledger write request
type Entry struct {
	OrganizationID string
	ActorID        string
	EventName      string
	TargetType     TargetType
	TargetID       string
	JobID          string
	SiteID         string
	Metadata       map[string]interface{}
	Payload        map[string]interface{}
	Client         string
	AppVersion     string
	DeviceID       string
	Context        RequestContext
}

// ResultData is returned for a persisted event
type ResultData struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Severity  Severity  `json:"severity"`
	Material  bool      `json:"material"`
	CreatedAt time.Time `json:"created_at"`
}

// ResultError describes why an event was not persisted
type ResultError struct {
	Message string `json:"message"`
}

// Result is the tagged outcome of RecordAuditLog. Exactly one field is set.
type Result struct {
	Data *ResultData  `json:"data"`
	Err  *ResultError `json:"error"`
}

// OK reports whether the event was persisted
func (r Result) OK() bool { return r.Err == nil && r.Data != nil }

func errorResult(format string, args ...interface{}) Result {
	return Result{Err: &ResultError{Message: fmt.Sprintf(format, args...)}}
}

// Writer is the single entry point for appending ledger events
type Writer struct {
	store       EventStore
	actors      ActorLookup
	invalidator cache.Invalidator
	shipper     audit.Shipper
	maxBytes    int
	now         func() time.Time
	pending     sync.WaitGroup
}

// Option configures a Writer
type Option func(*Writer)

// WithActorLookup enables actor snapshotting
func WithActorLookup(l ActorLookup) Option {
	return func(w *Writer) { w.actors = l }
}

// WithInvalidator sets the cache cleared after material events
func WithInvalidator(i cache.Invalidator) Option {
	return func(w *Writer) { w.invalidator = i }
}

// WithShipper forwards persisted events to external sinks
func WithShipper(s audit.Shipper) Option {
	return func(w *Writer) { w.shipper = s }
}

// WithMetadataLimit overrides DefaultMetadataMaxBytes
func WithMetadataLimit(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxBytes = n
		}
	}
}

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a Writer over store
func NewWriter(store EventStore, opts ...Option) *Writer {
	w := &Writer{
		store:       store,
		invalidator: cache.Nop{},
		maxBytes:    DefaultMetadataMaxBytes,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RecordAuditLog normalizes, classifies and persists one event. It never
// panics and never returns a Go error; failures come back in Result.Err.
func (w *Writer) RecordAuditLog(ctx context.Context, e Entry) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ledger write panicked", "event_name", e.EventName, "org_id", e.OrganizationID, "panic", r)
			telemetry.LedgerWriteFailuresTotal.Inc()
			res = errorResult("audit log write failed: %v", r)
		}
	}()

	if e.OrganizationID == "" {
		return errorResult("organization_id is required")
	}
	if e.EventName == "" {
		return errorResult("event_name is required")
	}

	event := w.build(ctx, e)

	if err := w.store.Insert(ctx, event); err != nil {
		slog.Error("failed to persist audit event",
			"event_name", event.EventName, "org_id", event.OrganizationID, "error", err)
		telemetry.LedgerWriteFailuresTotal.Inc()
		return errorResult("failed to persist audit event: %v", err)
	}

	telemetry.LedgerEventsTotal.WithLabelValues(event.Category, event.Severity).Inc()

	material := IsMaterial(event.EventName, Severity(event.Severity))
	if material {
		if err := w.invalidator.InvalidateOrg(ctx, event.OrganizationID); err != nil {
			slog.Warn("failed to invalidate aggregate cache", "org_id", event.OrganizationID, "error", err)
		}
	}

	w.ship(event)

	return Result{Data: &ResultData{
		ID:        event.ID,
		Category:  Category(event.Category),
		Severity:  Severity(event.Severity),
		Material:  material,
		CreatedAt: event.CreatedAt,
	}}
}

// RecordAsync writes e on a background goroutine. The caller does not learn
// the outcome; failures are logged and counted.
func (w *Writer) RecordAsync(e Entry) {
	w.pending.Add(1)
	safego.GoNamed("ledger.record_async", func() {
		defer w.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		if res := w.RecordAuditLog(ctx, e); res.Err != nil {
			slog.Warn("async audit write failed", "event_name", e.EventName, "error", res.Err.Message)
		}
	})
}

// Wait blocks until every RecordAsync call and every shipper hand-off has
// finished
func (w *Writer) Wait() {
	w.pending.Wait()
}

func (w *Writer) build(ctx context.Context, e Entry) *models.AuditEvent {
	cls := Classify(e.EventName)

	targetType := e.TargetType
	if !targetType.Valid() {
		targetType = TargetSystem
	}

	metadata := w.truncate(mergeMetadata(e.Payload, e.Metadata))
	metadata["client"] = orDefault(e.Client, metadata["client"], defaultClient)
	metadata["app_version"] = orDefault(e.AppVersion, metadata["app_version"], unknownValue)
	metadata["device_id"] = orDefault(e.DeviceID, metadata["device_id"], unknownValue)
	metadata["subject"] = map[string]interface{}{"type": string(targetType), "id": nullable(e.TargetID)}
	for i, v := range e.Context.values() {
		if v != "" {
			metadata[contextKeys[i]] = v
		}
	}

	summary := Humanize(e.EventName)
	if s, ok := metadata["summary"].(string); ok && s != "" {
		summary = s
	}

	event := &models.AuditEvent{
		ID:             uuid.New().String(),
		OrganizationID: e.OrganizationID,
		ActorID:        strPtr(e.ActorID),
		EventName:      e.EventName,
		Category:       string(cls.Category),
		Action:         cls.Action,
		Outcome:        string(cls.Outcome),
		Severity:       string(cls.Severity),
		TargetType:     string(targetType),
		TargetID:       strPtr(e.TargetID),
		Summary:        summary,
		Metadata:       metadata,
		CreatedAt:      w.now().UTC(),
	}
	event.ResourceType = strPtr(event.TargetType)
	event.ResourceID = event.TargetID

	event.JobID = strPtr(e.JobID)
	if event.JobID == nil && targetType == TargetJob {
		event.JobID = event.TargetID
	}
	event.SiteID = strPtr(e.SiteID)
	if event.SiteID == nil && targetType == TargetSite {
		event.SiteID = event.TargetID
	}

	if IsViolation(e.EventName) {
		event.PolicyStatement = strPtr(PolicyStatement(e.EventName))
	}

	w.snapshotActor(ctx, event)
	return event
}

func (w *Writer) snapshotActor(ctx context.Context, event *models.AuditEvent) {
	if event.ActorID == nil || w.actors == nil {
		return
	}
	profile, err := w.actors.GetMemberProfile(ctx, event.OrganizationID, *event.ActorID)
	if err != nil {
		slog.Warn("actor lookup failed, writing event without actor snapshot",
			"actor_id", *event.ActorID, "org_id", event.OrganizationID, "error", err)
		return
	}
	if profile == nil {
		return
	}
	event.ActorEmail = strPtr(profile.Email)
	event.ActorName = strPtr(profile.Name)
	event.ActorRole = strPtr(profile.Role)
}

// truncate enforces the metadata size cap. An oversized document is cut at
// the cap and re-parsed; if the cut text is not valid JSON the metadata
// collapses to {"truncated": true}.
func (w *Writer) truncate(m map[string]interface{}) map[string]interface{} {
	data, err := json.Marshal(m)
	if err != nil {
		return map[string]interface{}{"truncated": true}
	}
	if len(data) <= w.maxBytes {
		return m
	}

	var cut map[string]interface{}
	if err := json.Unmarshal(data[:w.maxBytes], &cut); err == nil && cut != nil {
		cut["truncated"] = true
		return cut
	}
	return map[string]interface{}{"truncated": true}
}

func (w *Writer) ship(event *models.AuditEvent) {
	if w.shipper == nil {
		return
	}
	w.pending.Add(1)
	safego.GoNamed("ledger.ship", func() {
		defer w.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		defer cancel()
		if err := w.shipper.Ship(ctx, event); err != nil {
			slog.Warn("failed to ship audit event", "event_id", event.ID, "error", err)
		}
	})
}

// mergeMetadata copies payload then entry metadata into a fresh map; entry
// keys win on conflict.
func mergeMetadata(payload, metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload)+len(metadata)+8)
	for k, v := range payload {
		out[k] = v
	}
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

func orDefault(explicit string, existing interface{}, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if s, ok := existing.(string); ok && s != "" {
		return s
	}
	return fallback
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
