package http

import (
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/retention"
)

// CacheHandlers exposes local cache maintenance.
type CacheHandlers struct {
	cache      *cache.Handle
	controller *core.Controller
	retention  *retention.Manager
	log        *zerolog.Logger
}

// NewCacheHandlers creates a new cache handlers instance. rm may be nil.
// Clears are queued behind the controller's pending cache writes.
func NewCacheHandlers(h *cache.Handle, ctrl *core.Controller, rm *retention.Manager, logger *zerolog.Logger) *CacheHandlers {
	return &CacheHandlers{cache: h, controller: ctrl, retention: rm, log: logger}
}

// StatsResponse describes cache contents.
type StatsResponse struct {
	Driver        string `json:"driver"`
	Available     bool   `json:"available"`
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	SizeBytes     int64  `json:"size_bytes"`
	Size          string `json:"size"`
}

// PruneResponse reports an eviction pass.
type PruneResponse struct {
	Messages      int `json:"messages"`
	Conversations int `json:"conversations"`
}

func (h *CacheHandlers) unavailable(c *gin.Context, err error) {
	h.log.Debug().Err(err).Msg("cache unavailable")
	c.JSON(http.StatusServiceUnavailable, proto.ErrorResponse{Error: "local cache unavailable", Code: codeUnavailable})
}

// Stats reports record counts and size.
// GET /api/cache/stats
func (h *CacheHandlers) Stats(c *gin.Context) {
	st, err := h.cache.Stats(c.Request.Context())
	if err != nil && !errors.Is(err, cache.ErrStorageUnavailable) {
		h.unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, StatsResponse{
		Driver:        h.cache.Driver(),
		Available:     err == nil,
		Conversations: st.Conversations,
		Messages:      st.Messages,
		SizeBytes:     st.SizeBytes,
		Size:          humanize.Bytes(uint64(max(st.SizeBytes, 0))),
	})
}

// Prune runs one eviction pass now.
// POST /api/cache/prune
func (h *CacheHandlers) Prune(c *gin.Context) {
	if h.retention == nil {
		h.unavailable(c, errors.New("retention not configured"))
		return
	}
	res, err := h.retention.RunOnce(c.Request.Context())
	if errors.Is(err, retention.ErrRunInProgress) {
		c.JSON(http.StatusConflict, proto.ErrorResponse{Error: err.Error(), Code: codeConflict})
		return
	}
	if err != nil {
		h.unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, PruneResponse{Messages: res.Messages, Conversations: res.Conversations})
}

// Clear empties the cache. Faults are logged by the handle, never returned.
// DELETE /api/cache
func (h *CacheHandlers) Clear(c *gin.Context) {
	if err := h.controller.ClearCache(c.Request.Context()); err != nil {
		writeError(c, h.log, "clear_cache", err)
		return
	}
	c.Status(http.StatusNoContent)
}
