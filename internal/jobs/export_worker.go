// export_worker.go implements the ExportWorker background job, which claims
// queued proof-pack exports and drives each one through preparing, generating
// and uploading to ready. Claims use FOR UPDATE SKIP LOCKED so several
// replicas can run the worker against the same database. A job that hits an
// error ends in failed with an operator message and a stable failure reason;
// there is no retry and no cancellation. Each job is claimed in its own
// transaction, and jobs left in flight by a worker that died are swept to
// failed once they go stale.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/db/repositories"
	"github.com/riskmate/riskmate/internal/export"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/internal/telemetry"
)

// ExportJobStore is the subset of the export job repository the worker uses
type ExportJobStore interface {
	ClaimQueued(ctx context.Context, limit int, claimedState string, progress int) ([]*models.ExportJob, error)
	Transition(ctx context.Context, id, from, to string, progress int) error
	Complete(ctx context.Context, id, from string, c repositories.Completion) error
	Fail(ctx context.Context, id, message, reason string) error
	FailStale(ctx context.Context, cutoff time.Time, message, reason string) ([]*models.ExportJob, error)
}

// LedgerReader lists the events a pack covers
type LedgerReader interface {
	ListAll(ctx context.Context, filters repositories.EventFilters) ([]*models.AuditEvent, error)
}

// RecordReader lists the operational records rendered next to the ledger
type RecordReader interface {
	ListEvidence(ctx context.Context, s repositories.RecordScope) ([]models.EvidenceRequirement, error)
	ListControls(ctx context.Context, s repositories.RecordScope) ([]models.Control, error)
	ListAttestations(ctx context.Context, s repositories.RecordScope) ([]models.Attestation, error)
}

// LedgerRecorder writes the completion and failure events
type LedgerRecorder interface {
	RecordAuditLog(ctx context.Context, e ledger.Entry) ledger.Result
}

// stepError carries the failure reason of the step that failed
type stepError struct {
	reason string
	err    error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func fail(reason string, format string, args ...interface{}) error {
	return &stepError{reason: reason, err: fmt.Errorf(format, args...)}
}

// ExportWorker builds proof packs for queued export jobs
type ExportWorker struct {
	jobs       ExportJobStore
	events     LedgerReader
	records    RecordReader
	recorder   LedgerRecorder
	store      storage.Storage
	builder    *export.Builder
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewExportWorker creates an ExportWorker. signer may be nil.
func NewExportWorker(
	jobs ExportJobStore,
	events LedgerReader,
	records RecordReader,
	recorder LedgerRecorder,
	store storage.Storage,
	signer *export.Signer,
	cfg *config.ExportConfig,
) *ExportWorker {
	interval := cfg.WorkerInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 5
	}
	stale := cfg.StaleAfter
	if stale <= 0 {
		stale = 15 * time.Minute
	}
	return &ExportWorker{
		jobs:       jobs,
		events:     events,
		records:    records,
		recorder:   recorder,
		store:      store,
		builder:    export.NewBuilder(cfg.ManifestVersion, signer),
		interval:   interval,
		batchSize:  batch,
		staleAfter: stale,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
}

// Start runs the claim loop until ctx is cancelled or Stop is called. It
// polls once immediately, then on every tick.
func (w *ExportWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("export worker started", "interval", w.interval, "batch_size", w.batchSize, "storage", w.store.Name())

	w.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.stopChan:
			slog.Info("export worker stopped")
			return
		case <-ctx.Done():
			slog.Info("export worker context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. A build in progress finishes first.
func (w *ExportWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// RunOnce sweeps stale in-flight jobs, then claims and builds up to
// batchSize queued jobs one at a time. It returns the number of jobs claimed.
func (w *ExportWorker) RunOnce(ctx context.Context) int {
	w.sweepStale(ctx)

	n := 0
	for n < w.batchSize {
		claimed, err := w.jobs.ClaimQueued(ctx, 1, string(export.StatePreparing), export.StatePreparing.Progress())
		if err != nil {
			slog.Error("export worker: failed to claim job", "error", err)
			break
		}
		if len(claimed) == 0 {
			break
		}
		n++
		telemetry.ExportJobsTotal.WithLabelValues(string(export.StatePreparing)).Inc()
		w.process(ctx, claimed[0])
	}
	return n
}

// sweepStale fails jobs whose worker stopped before reaching a terminal state
func (w *ExportWorker) sweepStale(ctx context.Context) {
	cutoff := w.now().Add(-w.staleAfter)
	msg := fmt.Sprintf("export made no progress for %s; the worker building it stopped", w.staleAfter)
	swept, err := w.jobs.FailStale(ctx, cutoff, msg, export.ReasonWorkerInterrupted)
	if err != nil {
		slog.Error("export worker: failed to sweep stale jobs", "error", err)
		return
	}
	for _, job := range swept {
		slog.Warn("export worker: failed stale job", "export_id", job.ID, "org_id", job.OrganizationID, "state", job.State)
		telemetry.ExportJobsTotal.WithLabelValues(string(export.StateFailed)).Inc()
		w.recordFailure(ctx, job, export.ReasonWorkerInterrupted)
	}
}

func (w *ExportWorker) process(ctx context.Context, job *models.ExportJob) {
	start := time.Now()
	defer func() { telemetry.ExportBuildDuration.Observe(time.Since(start).Seconds()) }()

	log := slog.With("export_id", job.ID, "org_id", job.OrganizationID)
	log.Info("export build started")

	if err := w.build(ctx, job); err != nil {
		reason := export.ReasonRenderFailed
		var se *stepError
		if errors.As(err, &se) {
			reason = se.reason
		}
		log.Error("export build failed", "reason", reason, "error", err)
		w.markFailed(ctx, job, err.Error(), reason)
		return
	}
	log.Info("export build completed")
}

func (w *ExportWorker) build(ctx context.Context, job *models.ExportJob) error {
	var filters export.Filters
	if len(job.Filters) > 0 {
		if err := json.Unmarshal(job.Filters, &filters); err != nil {
			return fail(export.ReasonLedgerQueryFailed, "stored filters are unreadable: %v", err)
		}
	}
	filters, err := filters.Normalize()
	if err != nil {
		return fail(export.ReasonLedgerQueryFailed, "stored filters are invalid: %v", err)
	}

	doc, err := w.load(ctx, job, filters)
	if err != nil {
		return err
	}

	if err := w.advance(ctx, job, export.StatePreparing, export.StateGenerating); err != nil {
		return err
	}
	pack, err := w.builder.Build(doc)
	if err != nil {
		var be *export.BuildError
		if errors.As(err, &be) {
			return fail(be.Reason, "%v", be)
		}
		return fail(export.ReasonRenderFailed, "%v", err)
	}

	if err := w.advance(ctx, job, export.StateGenerating, export.StateUploading); err != nil {
		return err
	}
	key := storage.PackKey(job.OrganizationID, job.ID)
	obj, err := w.store.Put(ctx, key, bytes.NewReader(pack.Archive), int64(len(pack.Archive)), storage.ContentTypeZip)
	if err != nil {
		return fail(export.ReasonUploadFailed, "failed to upload proof pack: %v", err)
	}

	res := w.recorder.RecordAuditLog(ctx, ledger.Entry{
		OrganizationID: job.OrganizationID,
		ActorID:        deref(job.RequestedBy),
		EventName:      "export.completed",
		TargetType:     ledger.TargetExport,
		TargetID:       job.ID,
		JobID:          filters.JobID,
		SiteID:         filters.SiteID,
		Client:         "worker",
		Metadata: map[string]interface{}{
			"manifest_hash":       pack.ManifestHash,
			"manifest_version":    pack.Manifest.Version,
			"storage_path":        obj.Key,
			"storage_backend":     w.store.Name(),
			"size":                obj.Size,
			"archive_sha256":      obj.Checksum,
			"event_count":         pack.Manifest.EventCount,
			"file_count":          len(pack.Manifest.Files),
			"active_filter_count": pack.Manifest.ActiveFilterCount,
			"signed":              len(pack.Signature) > 0,
		},
	})
	if !res.OK() {
		msg := "ledger write returned no event"
		if res.Err != nil {
			msg = res.Err.Message
		}
		return fail(export.ReasonManifestFailed, "failed to record manifest hash in the ledger: %s", msg)
	}

	err = w.jobs.Complete(ctx, job.ID, string(export.StateUploading), repositories.Completion{
		StoragePath:    obj.Key,
		StorageBackend: w.store.Name(),
		Manifest:       pack.ManifestJSON,
		ManifestHash:   pack.ManifestHash,
		LedgerEventID:  res.Data.ID,
	})
	if err != nil {
		return fail(export.ReasonManifestFailed, "failed to store manifest: %v", err)
	}
	telemetry.ExportJobsTotal.WithLabelValues(string(export.StateReady)).Inc()
	return nil
}

// load reads the ledger slice and the operational records for the pack.
// Time ranges are anchored at the job's creation so a pack always covers
// the window the requester saw.
func (w *ExportWorker) load(ctx context.Context, job *models.ExportJob, f export.Filters) (*export.Document, error) {
	events, err := w.events.ListAll(ctx, f.EventFilters(job.OrganizationID, job.CreatedAt))
	if err != nil {
		return nil, fail(export.ReasonLedgerQueryFailed, "failed to read ledger: %v", err)
	}

	scope := f.RecordScope(job.OrganizationID)
	evidence, err := w.records.ListEvidence(ctx, scope)
	if err != nil {
		return nil, fail(export.ReasonLedgerQueryFailed, "failed to read evidence: %v", err)
	}
	controls, err := w.records.ListControls(ctx, scope)
	if err != nil {
		return nil, fail(export.ReasonLedgerQueryFailed, "failed to read controls: %v", err)
	}
	attestations, err := w.records.ListAttestations(ctx, scope)
	if err != nil {
		return nil, fail(export.ReasonLedgerQueryFailed, "failed to read attestations: %v", err)
	}

	return &export.Document{
		ExportID:       job.ID,
		OrganizationID: job.OrganizationID,
		GeneratedAt:    job.CreatedAt.UTC(),
		Filters:        f,
		Events:         events,
		Evidence:       evidence,
		Controls:       controls,
		Attestations:   attestations,
	}, nil
}

func (w *ExportWorker) advance(ctx context.Context, job *models.ExportJob, from, to export.State) error {
	if err := export.Transition(from, to); err != nil {
		return fail(export.ReasonRenderFailed, "%v", err)
	}
	if err := w.jobs.Transition(ctx, job.ID, string(from), string(to), to.Progress()); err != nil {
		return fail(export.ReasonRenderFailed, "failed to move export to %s: %v", to, err)
	}
	job.State, job.Progress = string(to), to.Progress()
	telemetry.ExportJobsTotal.WithLabelValues(string(to)).Inc()
	return nil
}

func (w *ExportWorker) markFailed(ctx context.Context, job *models.ExportJob, message, reason string) {
	if err := w.jobs.Fail(ctx, job.ID, message, reason); err != nil {
		slog.Error("export worker: failed to mark job failed", "export_id", job.ID, "error", err)
		return
	}
	telemetry.ExportJobsTotal.WithLabelValues(string(export.StateFailed)).Inc()
	w.recordFailure(ctx, job, reason)
}

func (w *ExportWorker) recordFailure(ctx context.Context, job *models.ExportJob, reason string) {
	res := w.recorder.RecordAuditLog(ctx, ledger.Entry{
		OrganizationID: job.OrganizationID,
		ActorID:        deref(job.RequestedBy),
		EventName:      "export.failed",
		TargetType:     ledger.TargetExport,
		TargetID:       job.ID,
		Client:         "worker",
		Metadata: map[string]interface{}{
			"failure_reason": reason,
			"failed_state":   job.State,
		},
	})
	if !res.OK() {
		slog.Warn("export worker: failure event not recorded", "export_id", job.ID)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
