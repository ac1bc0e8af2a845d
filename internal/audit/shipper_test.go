package audit_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/riskmate/riskmate/internal/audit"
	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db/models"
)

func sampleEvent(id string) *models.AuditEvent {
	return &models.AuditEvent{
		ID:             id,
		OrganizationID: "org-1",
		EventName:      "job.flagged",
		Category:       "operations",
		Severity:       "material",
		Metadata:       map[string]interface{}{"client": "web"},
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_Empty(t *testing.T) {
	ms, err := audit.NewMultiShipper(nil)
	if err != nil {
		t.Fatalf("NewMultiShipper(nil) error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
	if err := ms.Ship(context.Background(), sampleEvent("e1")); err != nil {
		t.Errorf("Ship() on empty multi-shipper = %v, want nil", err)
	}
	if err := ms.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestNewMultiShipper_DisabledConfigSkipped(t *testing.T) {
	ms, err := audit.NewMultiShipper([]config.ShipperConfig{
		{Enabled: false, Type: "webhook", Webhook: &config.WebhookConfig{URL: "http://example.com"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
}

func TestNewMultiShipper_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ShipperConfig
	}{
		{"unknown type", config.ShipperConfig{Enabled: true, Type: "syslog"}},
		{"webhook without config", config.ShipperConfig{Enabled: true, Type: "webhook"}},
		{"file without config", config.ShipperConfig{Enabled: true, Type: "file"}},
		{"webhook without url", config.ShipperConfig{Enabled: true, Type: "webhook", Webhook: &config.WebhookConfig{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audit.NewMultiShipper([]config.ShipperConfig{tt.cfg}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_DirectPost(t *testing.T) {
	var got models.AuditEvent
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&config.WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer siem"},
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper() error: %v", err)
	}
	defer ws.Close()

	if err := ws.Ship(context.Background(), sampleEvent("e1")); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if got.ID != "e1" || got.EventName != "job.flagged" {
		t.Errorf("received %+v", got)
	}
	if auth != "Bearer siem" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWebhookShipper_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&config.WebhookConfig{URL: srv.URL})
	defer ws.Close()

	if err := ws.Ship(context.Background(), sampleEvent("e1")); err == nil {
		t.Error("expected error for 502, got nil")
	}
}

func TestWebhookShipper_BatchFlushedOnClose(t *testing.T) {
	var mu sync.Mutex
	var received []models.AuditEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []models.AuditEvent
		_ = json.NewDecoder(r.Body).Decode(&batch)
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&config.WebhookConfig{URL: srv.URL, BatchSize: 10, FlushInterval: 60})
	if err != nil {
		t.Fatalf("NewWebhookShipper() error: %v", err)
	}
	for _, id := range []string{"e1", "e2", "e3"} {
		if err := ws.Ship(context.Background(), sampleEvent(id)); err != nil {
			t.Fatalf("Ship() error: %v", err)
		}
	}
	ws.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Errorf("received %d events, want 3", len(received))
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	fs, err := audit.NewFileShipper(&config.FileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper() error: %v", err)
	}

	for _, id := range []string{"e1", "e2"} {
		if err := fs.Ship(context.Background(), sampleEvent(id)); err != nil {
			t.Fatalf("Ship() error: %v", err)
		}
	}
	fs.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e models.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		ids = append(ids, e.ID)
	}
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Errorf("ids = %v, want [e1 e2]", ids)
	}
}

func TestFileShipper_BadPath(t *testing.T) {
	if _, err := audit.NewFileShipper(&config.FileConfig{Path: filepath.Join(t.TempDir(), "missing", "x.jsonl")}); err == nil {
		t.Error("expected error for missing directory, got nil")
	}
}
