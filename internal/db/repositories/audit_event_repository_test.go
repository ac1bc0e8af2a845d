package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/riskmate/riskmate/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var auditEventCols = []string{
	"id", "organization_id", "actor_id", "actor_email", "actor_role", "actor_name",
	"event_name", "category", "action", "outcome", "severity", "target_type", "target_id",
	"resource_type", "resource_id", "job_id", "site_id", "summary", "policy_statement", "metadata", "created_at",
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newAuditEventRepo(t *testing.T) (*AuditEventRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditEventRepository(db), mock
}

func sampleAuditEventRow() *sqlmock.Rows {
	return sqlmock.NewRows(auditEventCols).
		AddRow("evt-1", "org-1", "user-1", "lead@example.com", "safety_lead", "Lee Lead",
			"job.flagged", "operations", "flag", "allowed", "material", "job", "job-1",
			"job", "job-1", "job-1", nil, "Job flagged", nil,
			[]byte(`{"client":"web","app_version":"unknown","device_id":"unknown"}`), time.Now())
}

func strPtr(s string) *string { return &s }

const eventUUID = "5b0c7f1e-9a43-4c2d-8e11-3f6a2d9b7c40"

// ---------------------------------------------------------------------------
// Insert
// ---------------------------------------------------------------------------

func TestAuditEventInsert_Success(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	e := &models.AuditEvent{
		ID:             "evt-1",
		OrganizationID: "org-1",
		EventName:      "job.created",
		Category:       "operations",
		Action:         "create",
		Outcome:        "allowed",
		Severity:       "info",
		TargetType:     "job",
		Metadata:       map[string]interface{}{"client": "web"},
		CreatedAt:      time.Now(),
	}
	if err := repo.Insert(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAuditEventInsert_DBError(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errDB)

	if err := repo.Insert(context.Background(), &models.AuditEvent{OrganizationID: "org-1"}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestAuditEventInsert_UnencodableMetadata(t *testing.T) {
	repo, _ := newAuditEventRepo(t)
	e := &models.AuditEvent{Metadata: map[string]interface{}{"ch": make(chan int)}}
	if err := repo.Insert(context.Background(), e); err == nil {
		t.Error("expected encode error, got nil")
	}
}

// ---------------------------------------------------------------------------
// List / ListAll
// ---------------------------------------------------------------------------

func TestAuditEventList_OrgOnly(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_events WHERE organization_id = \\$1$").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT id.*FROM audit_events WHERE organization_id = \\$1 ORDER BY created_at DESC").
		WithArgs("org-1", 50, 0).
		WillReturnRows(sampleAuditEventRow())

	events, total, err := repo.List(context.Background(), EventFilters{OrganizationID: "org-1"}, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("total=%d len=%d, want 1/1", total, len(events))
	}
	if events[0].Metadata["client"] != "web" {
		t.Errorf("metadata.client = %v, want web", events[0].Metadata["client"])
	}
	if *events[0].ActorEmail != "lead@example.com" {
		t.Errorf("actor_email = %q", *events[0].ActorEmail)
	}
}

func TestAuditEventList_WithFilters(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	since := time.Now().Add(-30 * 24 * time.Hour)
	filters := EventFilters{
		OrganizationID:    "org-1",
		JobID:             strPtr("job-123"),
		EventNameContains: strPtr("security"),
		Since:             &since,
	}

	mock.ExpectQuery("SELECT COUNT.*event_name LIKE \\$2 ESCAPE .* AND job_id = \\$3 AND created_at >= \\$4").
		WithArgs("org-1", "%security%", "job-123", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id.*ORDER BY created_at DESC, seq DESC LIMIT \\$5 OFFSET \\$6").
		WithArgs("org-1", "%security%", "job-123", since, 10, 20).
		WillReturnRows(sqlmock.NewRows(auditEventCols))

	events, total, err := repo.List(context.Background(), filters, 10, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(events) != 0 {
		t.Errorf("total=%d len=%d, want 0/0", total, len(events))
	}
}

func TestAuditEventList_EscapesLikeWildcards(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	filters := EventFilters{OrganizationID: "org-1", EventNameContains: strPtr(`a%b_c\`)}

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("org-1", `%a\%b\_c\\%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id").
		WithArgs("org-1", `%a\%b\_c\\%`, 10, 0).
		WillReturnRows(sqlmock.NewRows(auditEventCols))

	if _, _, err := repo.List(context.Background(), filters, 10, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestContainsPattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"security", "%security%"},
		{"%", `%\%%`},
		{"_", `%\_%`},
		{`\`, `%\\%`},
		{"", "%%"},
	}
	for _, tt := range tests {
		if got := containsPattern(tt.in); got != tt.want {
			t.Errorf("containsPattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuditEventList_CountError(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	if _, _, err := repo.List(context.Background(), EventFilters{OrganizationID: "org-1"}, 10, 0); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestAuditEventListAll_Ascending(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	mock.ExpectQuery("SELECT id.*ORDER BY created_at ASC, seq ASC").
		WithArgs("org-1", "operations").
		WillReturnRows(sampleAuditEventRow())

	events, err := repo.ListAll(context.Background(), EventFilters{OrganizationID: "org-1", Category: strPtr("operations")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("len(events) = %d, want 1", len(events))
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestAuditEventGetByID_Found(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	mock.ExpectQuery("SELECT id.*WHERE organization_id = \\$1 AND id = \\$2").
		WithArgs("org-1", eventUUID).
		WillReturnRows(sampleAuditEventRow())

	e, err := repo.GetByID(context.Background(), "org-1", eventUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil || e.ID != "evt-1" {
		t.Errorf("GetByID() = %+v, want evt-1", e)
	}
}

func TestAuditEventGetByID_OtherTenant(t *testing.T) {
	repo, mock := newAuditEventRepo(t)
	mock.ExpectQuery("SELECT id.*FROM audit_events").
		WithArgs("org-2", eventUUID).
		WillReturnRows(sqlmock.NewRows(auditEventCols))

	e, err := repo.GetByID(context.Background(), "org-2", eventUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != nil {
		t.Errorf("GetByID() = %+v, want nil", e)
	}
}

func TestAuditEventGetByID_MalformedIDSkipsQuery(t *testing.T) {
	repo, mock := newAuditEventRepo(t)

	for _, id := range []string{"evt-1", "", "1 OR 1=1"} {
		e, err := repo.GetByID(context.Background(), "org-1", id)
		if err != nil {
			t.Fatalf("GetByID(%q) error: %v", id, err)
		}
		if e != nil {
			t.Errorf("GetByID(%q) = %+v, want nil", id, e)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
