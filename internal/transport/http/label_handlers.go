package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/service/labels"
)

// LabelHandlers provides HTTP handlers for label management.
type LabelHandlers struct {
	labels *labels.Service
	log    *zerolog.Logger
}

// NewLabelHandlers creates a new label handlers instance.
func NewLabelHandlers(svc *labels.Service, logger *zerolog.Logger) *LabelHandlers {
	return &LabelHandlers{labels: svc, log: logger}
}

// CreateLabelRequest represents the create label request body.
type CreateLabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// List returns every label.
// GET /api/labels
func (h *LabelHandlers) List(c *gin.Context) {
	ls, err := h.labels.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, "list_labels", err)
		return
	}
	c.JSON(http.StatusOK, ls)
}

// Create adds a label.
// POST /api/labels
func (h *LabelHandlers) Create(c *gin.Context) {
	var req CreateLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	l, err := h.labels.Create(c.Request.Context(), req.Name, req.Color)
	if err != nil {
		writeError(c, h.log, "create_label", err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// Palette returns the selectable colors.
// GET /api/labels/palette
func (h *LabelHandlers) Palette(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"colors": labels.Palette(), "default": labels.DefaultColor})
}

// ForConversation lists labels attached to a conversation.
// GET /api/conversations/:id/labels
func (h *LabelHandlers) ForConversation(c *gin.Context) {
	ls, err := h.labels.ForConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, "conversation_labels", err)
		return
	}
	c.JSON(http.StatusOK, ls)
}

// Attach tags a conversation.
// PUT /api/conversations/:id/labels/:labelID
func (h *LabelHandlers) Attach(c *gin.Context) {
	if err := h.labels.Attach(c.Request.Context(), c.Param("id"), c.Param("labelID")); err != nil {
		writeError(c, h.log, "attach_label", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Detach removes a tag.
// DELETE /api/conversations/:id/labels/:labelID
func (h *LabelHandlers) Detach(c *gin.Context) {
	if err := h.labels.Detach(c.Request.Context(), c.Param("id"), c.Param("labelID")); err != nil {
		writeError(c, h.log, "detach_label", err)
		return
	}
	c.Status(http.StatusNoContent)
}
