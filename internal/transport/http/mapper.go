package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/remote"
	"github.com/vovakirdan/wirechat-client/internal/service/labels"
	"github.com/vovakirdan/wirechat-client/internal/service/members"
)

// Error codes returned alongside the HTTP status.
const (
	codeNoConversation = "no_conversation"
	codeConflict       = "conflict"
	codeNotFound       = "not_found"
	codeRemoteFailed   = "remote_failed"
	codeUnavailable    = "unavailable"
	codeInternal       = "internal"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{core.ErrEmptyMessage, http.StatusBadRequest, core.ErrCodeBadRequest},
	{labels.ErrEmptyName, http.StatusBadRequest, core.ErrCodeBadRequest},
	{labels.ErrInvalidColor, http.StatusBadRequest, core.ErrCodeBadRequest},
	{members.ErrEmptyUserID, http.StatusBadRequest, core.ErrCodeBadRequest},
	{core.ErrNoConversation, http.StatusConflict, codeNoConversation},
	{members.ErrAlreadyMember, http.StatusConflict, codeConflict},
	{remote.ErrNotAuthenticated, http.StatusUnauthorized, core.ErrCodeNotAuthenticated},
	{remote.ErrNotFound, http.StatusNotFound, codeNotFound},
	{remote.ErrWriteFailed, http.StatusBadGateway, core.ErrCodeSendFailed},
	{remote.ErrQueryFailed, http.StatusBadGateway, codeRemoteFailed},
	{core.ErrClosed, http.StatusServiceUnavailable, codeUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, codeUnavailable},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, codeInternal
}

// writeError maps err onto a status and code. 5xx responses are logged.
func writeError(c *gin.Context, log *zerolog.Logger, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("op", op).Msg("request rejected")
	}
	c.JSON(status, proto.ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: msg, Code: core.ErrCodeBadRequest})
}
