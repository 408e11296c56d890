package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/remote/wirechat"
)

// ViewHandlers exposes the sync controller: sidebar, selection, view and composer.
type ViewHandlers struct {
	controller *core.Controller
	log        *zerolog.Logger
}

// NewViewHandlers creates a new view handlers instance.
func NewViewHandlers(c *core.Controller, logger *zerolog.Logger) *ViewHandlers {
	return &ViewHandlers{controller: c, log: logger}
}

// SelectRequest represents the select conversation request body.
type SelectRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

// SelectResponse reports the generation of the new selection.
type SelectResponse struct {
	Generation uint64 `json:"generation"`
}

// SendRequest represents the JSON send message request body.
type SendRequest struct {
	Content string `json:"content"`
}

// Conversations lists the sidebar.
// GET /api/conversations?q=
func (h *ViewHandlers) Conversations(c *gin.Context) {
	convs, err := h.controller.Conversations(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, h.log, "conversations", err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

// Select opens a conversation.
// PUT /api/selection
func (h *ViewHandlers) Select(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "conversation_id is required")
		return
	}
	gen, err := h.controller.Select(c.Request.Context(), req.ConversationID)
	if err != nil {
		writeError(c, h.log, "select", err)
		return
	}
	c.JSON(http.StatusOK, SelectResponse{Generation: gen})
}

// Deselect closes the view.
// DELETE /api/selection
func (h *ViewHandlers) Deselect(c *gin.Context) {
	if err := h.controller.Deselect(c.Request.Context()); err != nil {
		writeError(c, h.log, "deselect", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// View returns the current snapshot.
// GET /api/view
func (h *ViewHandlers) View(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.View())
}

// Send submits a message. Accepts JSON or multipart with "content" and "file" fields.
// POST /api/messages
func (h *ViewHandlers) Send(c *gin.Context) {
	var draft core.Draft
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		draft.Content = c.PostForm("content")
		if fh, err := c.FormFile("file"); err == nil {
			if fh.Size > wirechat.MaxUploadSize {
				badRequest(c, "attachment too large")
				return
			}
			f, err := fh.Open()
			if err != nil {
				badRequest(c, "unreadable attachment")
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				badRequest(c, "unreadable attachment")
				return
			}
			draft.File = &core.DraftFile{Name: fh.Filename, Data: data}
		}
	} else {
		var req SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		draft.Content = req.Content
	}

	msg, err := h.controller.Send(c.Request.Context(), draft)
	if err != nil {
		writeError(c, h.log, "send", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// RefreshMetadata refetches the selected conversation's metadata.
// POST /api/metadata/refresh
func (h *ViewHandlers) RefreshMetadata(c *gin.Context) {
	if err := h.controller.RefreshMetadata(c.Request.Context()); err != nil {
		writeError(c, h.log, "refresh_metadata", err)
		return
	}
	c.Status(http.StatusAccepted)
}
