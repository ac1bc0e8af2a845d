package jobs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/db/repositories"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/pkg/checksum"
)

var errBoom = errors.New("boom")

// fakeRecorder captures ledger entries and hands back sequential event IDs
type fakeRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
	failOn  string
}

func (r *fakeRecorder) RecordAuditLog(_ context.Context, e ledger.Entry) ledger.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && e.EventName == r.failOn {
		return ledger.Result{Err: &ledger.ResultError{Message: "insert failed"}}
	}
	r.entries = append(r.entries, e)
	return ledger.Result{Data: &ledger.ResultData{ID: "led-" + e.EventName, CreatedAt: time.Now()}}
}

func (r *fakeRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.EventName)
	}
	return out
}

func (r *fakeRecorder) find(name string) *ledger.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].EventName == name {
			return &r.entries[i]
		}
	}
	return nil
}

// fakeStore is an in-memory storage.Storage
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (s *fakeStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (*storage.Object, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return &storage.Object{Key: key, Size: int64(len(data)), Checksum: checksum.Sum(data), ContentType: contentType}, nil
}

func (s *fakeStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Stat(_ context.Context, key string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{Key: key, Size: int64(len(data))}, nil
}

func (s *fakeStore) SignedURL(context.Context, string, time.Duration) (string, error) { return "", nil }
func (s *fakeStore) Name() string { return "memory" }

// transition is one recorded state move
type transition struct{ from, to string }

// fakeJobs is an in-memory ExportJobStore
type fakeJobs struct {
	mu          sync.Mutex
	queued      []*models.ExportJob
	claimErr    error
	transitions []transition
	completion  *repositories.Completion
	completeErr error
	failed      map[string]string
	failMsg     string
	limits      []int
	stale       []*models.ExportJob
	staleErr    error
	cutoffs     []time.Time
}

func (f *fakeJobs) ClaimQueued(_ context.Context, limit int, claimed string, progress int) ([]*models.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	n := min(limit, len(f.queued))
	out := f.queued[:n]
	f.queued = f.queued[n:]
	for _, j := range out {
		j.State, j.Progress = claimed, progress
	}
	return out, nil
}

func (f *fakeJobs) Transition(_ context.Context, _, from, to string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, transition{from, to})
	return nil
}

func (f *fakeJobs) Complete(_ context.Context, _, from string, c repositories.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.transitions = append(f.transitions, transition{from, "ready"})
	f.completion = &c
	return nil
}

func (f *fakeJobs) Fail(_ context.Context, id, message, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = reason
	f.failMsg = message
	return nil
}

func (f *fakeJobs) FailStale(_ context.Context, cutoff time.Time, message, reason string) ([]*models.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.staleErr != nil {
		return nil, f.staleErr
	}
	out := f.stale
	f.stale = nil
	for _, j := range out {
		if f.failed == nil {
			f.failed = map[string]string{}
		}
		f.failed[j.ID] = reason
		f.failMsg = message
	}
	return out, nil
}

// fakeLedger serves a fixed event slice
type fakeLedger struct {
	events  []*models.AuditEvent
	err     error
	filters []repositories.EventFilters
}

func (l *fakeLedger) ListAll(_ context.Context, f repositories.EventFilters) ([]*models.AuditEvent, error) {
	l.filters = append(l.filters, f)
	return l.events, l.err
}

// fakeRecords serves empty operational records
type fakeRecords struct{ err error }

func (r fakeRecords) ListEvidence(context.Context, repositories.RecordScope) ([]models.EvidenceRequirement, error) {
	return nil, r.err
}

func (r fakeRecords) ListControls(context.Context, repositories.RecordScope) ([]models.Control, error) {
	return nil, nil
}

func (r fakeRecords) ListAttestations(context.Context, repositories.RecordScope) ([]models.Attestation, error) {
	return nil, nil
}
