package operations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/auth"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/middleware"
)

// InviteStore persists pending invitations
type InviteStore interface {
	CreateInvite(ctx context.Context, inv *models.PendingInvite) error
}

// TeamHandlers serves the team endpoints
type TeamHandlers struct {
	invites  InviteStore
	recorder Recorder
}

// NewTeamHandlers creates the team handlers
func NewTeamHandlers(invites InviteStore, recorder Recorder) *TeamHandlers {
	return &TeamHandlers{invites: invites, recorder: recorder}
}

type inviteRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

// @Summary      Invite a team member
// @Description  Owners may invite any role. Admins may invite members, safety leads and executives; safety leads may invite members.
// @Tags         Team
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  inviteRequest  true  "Invitation"
// @Success      201  {object}  map[string]interface{}  "ok: true, data: models.PendingInvite, ledger_event_id"
// @Failure      400  {object}  map[string]interface{}  "Invalid email or role"
// @Failure      403  {object}  map[string]interface{}  "Role may not grant the requested role"
// @Router       /api/team/invites [post]
// Invite records a pending invitation and team.invite_sent
// POST /api/team/invites
func (h *TeamHandlers) Invite() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}

		var req inviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.Reject(c, http.StatusBadRequest, "INVALID_REQUEST", "email and role are required")
			return
		}
		addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
		if err != nil {
			middleware.Reject(c, http.StatusBadRequest, "INVALID_EMAIL", "email is not a valid address")
			return
		}
		role, err := auth.ParseRoleStrict(req.Role)
		if err != nil {
			middleware.Reject(c, http.StatusBadRequest, "INVALID_ROLE", err.Error())
			return
		}

		if !auth.CanInvite(p.Role, role) {
			middleware.RecordViolation(c, h.recorder, p, "invite_not_permitted", map[string]interface{}{
				"requested_role": string(role),
			})
			middleware.Reject(c, http.StatusForbidden, middleware.CodeRoleForbidden,
				fmt.Sprintf("The %s role may not invite a %s", p.Role, role))
			return
		}

		inviter := p.UserID
		inv := &models.PendingInvite{
			OrganizationID: p.OrganizationID,
			Email:          strings.ToLower(addr.Address),
			Role:           string(role),
			InvitedBy:      &inviter,
		}
		if err := h.invites.CreateInvite(c.Request.Context(), inv); err != nil {
			slog.Error("failed to create invite", "org_id", p.OrganizationID, "error", err)
			middleware.Reject(c, http.StatusInternalServerError, "INVITE_FAILED", "Failed to create invitation")
			return
		}

		eventID := record(c, h.recorder, ledger.Entry{
			OrganizationID: p.OrganizationID,
			ActorID:        p.UserID,
			EventName:      "team.invite_sent",
			TargetType:     ledger.TargetOrganization,
			TargetID:       p.OrganizationID,
			Metadata: map[string]interface{}{
				"invite_id":    inv.ID,
				"email":        inv.Email,
				"invited_role": inv.Role,
			},
		})

		c.JSON(http.StatusCreated, gin.H{"ok": true, "data": inv, "ledger_event_id": eventID})
	}
}
