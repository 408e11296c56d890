// Command ws_smoke selects a conversation over the loopback view socket and
// prints every snapshot until the view goes live.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

type frame struct {
	Type  string       `json:"type"`
	View  *core.View   `json:"view,omitempty"`
	Error *proto.Error `json:"error,omitempty"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://127.0.0.1:7420/ws", "loopback view socket")
	conv := flag.String("conversation", "", "conversation ID to select (required)")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	if *conv == "" {
		return fmt.Errorf("-conversation is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	data, err := json.Marshal(map[string]string{"conversation_id": *conv})
	if err != nil {
		return fmt.Errorf("marshal select: %w", err)
	}
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "select", "data": json.RawMessage(data)}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if f.Error != nil {
			return fmt.Errorf("server error: %s", f.Error.Error())
		}
		if f.View == nil {
			continue
		}
		v := f.View
		fmt.Printf("view: generation=%d state=%s messages=%d partial=%t loading=%t\n",
			v.Generation, v.State, len(v.Messages), v.Partial, v.Loading)
		if v.Error != nil {
			fmt.Printf("  error: %s (%s)\n", v.Error.Message, v.Error.Code)
		}
		if v.ConversationID == *conv && v.State == core.StateLive {
			for _, m := range v.Messages {
				fmt.Printf("  [%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.Sender.Username, m.Content)
			}
			return nil
		}
	}
}
