package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// Frame types on the local view socket.
const (
	wsTypeView     = "view"
	wsTypeSelect   = "select"
	wsTypeDeselect = "deselect"
	wsTypeRefresh  = "refresh"
)

// wsInbound is a command from a presentation client.
type wsInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsOutbound carries a view snapshot or an error.
type wsOutbound struct {
	Type  string       `json:"type"`
	View  *core.View   `json:"view,omitempty"`
	Error *proto.Error `json:"error,omitempty"`
}

// WSHandler pushes view snapshots to presentation clients and accepts selection commands.
type WSHandler struct {
	controller *core.Controller
	log        *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(c *core.Controller, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{controller: c, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	log := h.log.With().Str("client_id", utils.NewID()).Logger()
	views, stop := h.controller.Watch()
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, &log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, views, &log)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, log *zerolog.Logger) error {
	for {
		var in wsInbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return err
		}

		if protoErr := h.apply(ctx, in); protoErr != nil {
			log.Debug().Str("type", in.Type).Str("code", protoErr.Code).Msg("ws command rejected")
			if err := wsjson.Write(ctx, conn, wsOutbound{Type: proto.OutboundTypeError, Error: protoErr}); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) apply(ctx context.Context, in wsInbound) *proto.Error {
	var err error
	switch in.Type {
	case wsTypeSelect:
		var req SelectRequest
		if len(in.Data) == 0 || json.Unmarshal(in.Data, &req) != nil || req.ConversationID == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "conversation_id is required"}
		}
		_, err = h.controller.Select(ctx, req.ConversationID)
	case wsTypeDeselect:
		err = h.controller.Deselect(ctx)
	case wsTypeRefresh:
		err = h.controller.RefreshMetadata(ctx)
	default:
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown frame type"}
	}
	if err != nil {
		_, code := statusFor(err)
		return &proto.Error{Code: code, Msg: err.Error()}
	}
	return nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, views <-chan core.View, log *zerolog.Logger) error {
	for {
		select {
		case v := <-views:
			if err := wsjson.Write(ctx, conn, wsOutbound{Type: wsTypeView, View: &v}); err != nil {
				log.Debug().Err(err).Msg("write ws view")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
