// api_key_expiry_watcher.go implements the APIKeyExpiryWatcher background job, which
// periodically scans for API keys approaching their expiry date and records an
// access.api_key_expiring event in the owning organization's ledger. The
// expiry_notified_at column is stamped after a successful write so each key is
// reported exactly once, even across server restarts.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/ledger"
)

// APIKeyExpiryStore is the subset of the API key repository the watcher uses
type APIKeyExpiryStore interface {
	FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error)
	MarkExpiryNotified(ctx context.Context, keyID string) error
}

// APIKeyExpiryWatcher reports keys that are about to expire
type APIKeyExpiryWatcher struct {
	keys        APIKeyExpiryStore
	recorder    LedgerRecorder
	interval    time.Duration
	warningDays int
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewAPIKeyExpiryWatcher creates a watcher. Zero or negative config values
// fall back to a 24h interval and a 7 day warning window.
func NewAPIKeyExpiryWatcher(keys APIKeyExpiryStore, recorder LedgerRecorder, cfg *config.APIKeyConfig) *APIKeyExpiryWatcher {
	interval := cfg.ExpiryCheckInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	days := cfg.ExpiryWarningDays
	if days <= 0 {
		days = 7
	}
	return &APIKeyExpiryWatcher{
		keys:        keys,
		recorder:    recorder,
		interval:    interval,
		warningDays: days,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

// Start runs an initial check immediately, then repeats on the configured
// interval until ctx is cancelled or Stop is called.
func (w *APIKeyExpiryWatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("api key expiry watcher started", "interval", w.interval, "warning_days", w.warningDays)

	w.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.stopChan:
			slog.Info("api key expiry watcher stopped")
			return
		case <-ctx.Done():
			slog.Info("api key expiry watcher context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit
func (w *APIKeyExpiryWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// RunOnce records one event per expiring key and returns how many keys were
// reported. A key whose event could not be written is retried next run.
func (w *APIKeyExpiryWatcher) RunOnce(ctx context.Context) int {
	keys, err := w.keys.FindExpiringKeys(ctx, w.warningDays)
	if err != nil {
		slog.Error("api key expiry watcher: failed to query expiring keys", "error", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	slog.Info("api key expiry watcher: keys approaching expiry", "count", len(keys))

	reported := 0
	for _, key := range keys {
		if key.ExpiresAt == nil {
			continue
		}
		if !w.record(ctx, key) {
			continue
		}
		if err := w.keys.MarkExpiryNotified(ctx, key.ID); err != nil {
			slog.Error("api key expiry watcher: failed to mark key", "key_id", key.ID, "error", err)
			continue
		}
		reported++
	}
	return reported
}

func (w *APIKeyExpiryWatcher) record(ctx context.Context, key *models.APIKey) bool {
	daysLeft := max(int(key.ExpiresAt.Sub(w.now()).Hours()/24)+1, 0)

	entry := ledger.Entry{
		OrganizationID: key.OrganizationID,
		EventName:      "access.api_key_expiring",
		TargetType:     ledger.TargetSystem,
		TargetID:       key.ID,
		Client:         "worker",
		Metadata: map[string]interface{}{
			"key_prefix": key.KeyPrefix,
			"name":       key.Name,
			"role":       key.Role,
			"expires_at": key.ExpiresAt.UTC().Format(time.RFC3339),
			"days_left":  daysLeft,
		},
	}
	if key.UserID != nil {
		entry.TargetType = ledger.TargetUser
		entry.TargetID = *key.UserID
		entry.Metadata["api_key_id"] = key.ID
	}

	res := w.recorder.RecordAuditLog(ctx, entry)
	if !res.OK() {
		msg := "no event returned"
		if res.Err != nil {
			msg = res.Err.Message
		}
		slog.Warn("api key expiry watcher: event not recorded", "key_id", key.ID, "error", msg)
		return false
	}
	return true
}
