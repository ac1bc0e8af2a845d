package exports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/auth"
	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/middleware"
	"github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/pkg/checksum"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*models.ExportJob
	createErr error
	getErr    error
}

func newFakeJobs(jobs ...*models.ExportJob) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]*models.ExportJob)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) CreateOrGet(_ context.Context, job *models.ExportJob) (*models.ExportJob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, false, f.createErr
	}
	for _, j := range f.jobs {
		if j.OrganizationID == job.OrganizationID && j.IdempotencyKey == job.IdempotencyKey {
			return j, false, nil
		}
	}
	f.jobs[job.ID] = job
	return job, true, nil
}

func (f *fakeJobs) GetByID(_ context.Context, orgID, id string) (*models.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	j := f.jobs[id]
	if j == nil || j.OrganizationID != orgID {
		return nil, nil
	}
	return j, nil
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeEvents struct {
	events map[string]*models.AuditEvent
	err    error
}

func (f *fakeEvents) GetByID(_ context.Context, orgID, id string) (*models.AuditEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	e := f.events[id]
	if e == nil || e.OrganizationID != orgID {
		return nil, nil
	}
	return e, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (r *fakeRecorder) RecordAuditLog(_ context.Context, e ledger.Entry) ledger.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return ledger.Result{Data: &ledger.ResultData{ID: fmt.Sprintf("evt-%d", len(r.entries)), CreatedAt: time.Now()}}
}

func (r *fakeRecorder) all() []ledger.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.Entry(nil), r.entries...)
}

// memStore is an in-memory storage.Storage; signed is returned by SignedURL
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	signed  string
	signErr error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (*storage.Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return &storage.Object{Key: key, Size: int64(len(data)), Checksum: checksum.Sum(data), ContentType: contentType}, nil
}

func (s *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Stat(_ context.Context, key string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{Key: key, Size: int64(len(data)), Checksum: checksum.Sum(data), ContentType: storage.ContentTypeZip}, nil
}

func (s *memStore) SignedURL(context.Context, string, time.Duration) (string, error) {
	return s.signed, s.signErr
}

func (s *memStore) Name() string { return "memory" }

// ---------------------------------------------------------------------------
// router helpers
// ---------------------------------------------------------------------------

type fixture struct {
	jobs     *fakeJobs
	events   *fakeEvents
	recorder *fakeRecorder
	store    *memStore
	h        *Handlers
}

func newFixture(jobs ...*models.ExportJob) *fixture {
	f := &fixture{
		jobs:     newFakeJobs(jobs...),
		events:   &fakeEvents{events: make(map[string]*models.AuditEvent)},
		recorder: &fakeRecorder{},
		store:    newMemStore(),
	}
	f.h = NewHandlers(f.jobs, f.events, f.recorder, f.store, &config.ExportConfig{PollBudget: 2 * time.Minute})
	return f
}

// withPrincipal stands in for AuthMiddleware
func withPrincipal(orgID, userID string, role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID)
		c.Set(middleware.ContextKeyOrganizationID, orgID)
		c.Set(middleware.ContextKeyRole, role)
		c.Next()
	}
}

func (f *fixture) router(orgID string) *gin.Engine {
	return newRouter(f.h, withPrincipal(orgID, "user-1", auth.RoleAdmin))
}

func newRouter(h *Handlers, authn gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware(), authn)
	r.POST("/api/audit/export/proof-pack", h.CreateProofPack())
	r.GET("/api/exports/:id", h.GetStatus())
	r.GET("/api/exports/:id/download", h.Download())
	r.POST("/api/verify/manifest", h.VerifyManifest())
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	data, ok := decode(t, w)["data"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	return data
}

func strp(s string) *string { return &s }
