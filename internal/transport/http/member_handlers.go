package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/service/members"
)

// MemberHandlers provides HTTP handlers for conversation membership.
type MemberHandlers struct {
	members *members.Service
	log     *zerolog.Logger
}

// NewMemberHandlers creates a new member handlers instance.
func NewMemberHandlers(svc *members.Service, logger *zerolog.Logger) *MemberHandlers {
	return &MemberHandlers{members: svc, log: logger}
}

// Members lists participants.
// GET /api/conversations/:id/members
func (h *MemberHandlers) Members(c *gin.Context) {
	ps, err := h.members.Members(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, "members", err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

// Candidates lists profiles that can be added.
// GET /api/conversations/:id/candidates?q=
func (h *MemberHandlers) Candidates(c *gin.Context) {
	ps, err := h.members.Candidates(c.Request.Context(), c.Param("id"), c.Query("q"))
	if err != nil {
		writeError(c, h.log, "candidates", err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

// Add makes a user a participant.
// PUT /api/conversations/:id/members/:userID
func (h *MemberHandlers) Add(c *gin.Context) {
	if err := h.members.Add(c.Request.Context(), c.Param("id"), c.Param("userID")); err != nil {
		writeError(c, h.log, "add_member", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Remove drops a participant.
// DELETE /api/conversations/:id/members/:userID
func (h *MemberHandlers) Remove(c *gin.Context) {
	if err := h.members.Remove(c.Request.Context(), c.Param("id"), c.Param("userID")); err != nil {
		writeError(c, h.log, "remove_member", err)
		return
	}
	c.Status(http.StatusNoContent)
}
