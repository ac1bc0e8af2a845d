package exports

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/export"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/middleware"
	"github.com/riskmate/riskmate/internal/telemetry"
)

type verifyRequest struct {
	// Manifest is the manifest object, or the manifest file contents as a JSON
	// string. When omitted the stored manifest is checked.
	Manifest json.RawMessage `json:"manifest"`
	ExportID string          `json:"export_id" binding:"required"`
}

// manifestBytes unwraps a manifest supplied as a JSON string
func manifestBytes(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	return trimmed, nil
}

// @Summary      Verify a manifest
// @Description  Recomputes the manifest hash and compares it with the export record and the export.completed ledger event. A pack is verified only when all three booleans are true.
// @Tags         Exports
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  object  true  "{manifest, export_id}"
// @Success      200  {object}  map[string]interface{}  "data: {manifest_valid, export_match, ledger_match, verified, computed_hash, problems}"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Export not found"
// @Failure      409  {object}  map[string]interface{}  "Export has no manifest yet"
// @Router       /api/verify/manifest [post]
// VerifyManifest runs the three-way manifest check
// POST /api/verify/manifest
func (h *Handlers) VerifyManifest() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			middleware.Reject(c, http.StatusUnauthorized, middleware.CodeInvalidContext, "Authentication context is incomplete")
			return
		}

		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "Request body must include export_id")
			return
		}
		manifest, err := manifestBytes(req.Manifest)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "manifest must be an object or a JSON string")
			return
		}

		job, ok := h.lookup(c, p.OrganizationID, req.ExportID)
		if !ok {
			return
		}
		if manifest == nil {
			if !job.HasManifest() {
				errorJSON(c, http.StatusConflict, "EXPORT_NOT_READY", "Export has no manifest to verify")
				return
			}
			manifest = []byte(job.Manifest)
		}

		var ledgerHash, ledgerEventID string
		if job.LedgerEventID != nil {
			ledgerEventID = *job.LedgerEventID
			ev, err := h.events.GetByID(c.Request.Context(), p.OrganizationID, ledgerEventID)
			if err != nil {
				slog.Error("failed to load export ledger event", "export_id", job.ID, "event_id", ledgerEventID, "error", err)
				errorJSON(c, http.StatusInternalServerError, "VERIFY_FAILED", "Failed to load ledger event")
				return
			}
			if ev != nil {
				ledgerHash, _ = ev.Metadata["manifest_hash"].(string)
			}
		}

		res := export.Verify(export.VerifyInput{
			Manifest:   manifest,
			ExportID:   job.ID,
			StoredHash: deref(job.ManifestHash),
			LedgerHash: ledgerHash,
		})

		eventName, result := "export.verified", "verified"
		if !res.Verified() {
			eventName, result = "export.verification_failed", "failed"
		}
		telemetry.ManifestVerificationsTotal.WithLabelValues(result).Inc()

		rc := middleware.LedgerContext(c)
		rc.RelatedEventID = ledgerEventID
		h.record(c, ledger.Entry{
			OrganizationID: p.OrganizationID,
			ActorID:        p.UserID,
			EventName:      eventName,
			TargetType:     ledger.TargetExport,
			TargetID:       job.ID,
			Context:        rc,
			Metadata: map[string]interface{}{
				"manifest_valid": res.ManifestValid,
				"export_match":   res.ExportMatch,
				"ledger_match":   res.LedgerMatch,
				"computed_hash":  res.ComputedHash,
			},
		})

		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"manifest_valid": res.ManifestValid,
			"export_match":   res.ExportMatch,
			"ledger_match":   res.LedgerMatch,
			"verified":       res.Verified(),
			"computed_hash":  res.ComputedHash,
			"problems":       res.Problems,
		}})
	}
}
