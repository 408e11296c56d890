package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/remote"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// DemoSenderName labels messages typed into demo conversations.
const DemoSenderName = "You"

func (c *Controller) send(cmd command) {
	sel := c.sel
	if sel == nil {
		cmd.reply <- commandResult{err: ErrNoConversation}
		return
	}

	if sel.demo {
		msg := c.demoMessage(sel.conversationID, cmd.draft)
		c.view.Messages = append(c.view.Messages, msg)
		c.view.Draft = ""
		c.publish()
		cmd.reply <- commandResult{generation: sel.generation, message: &msg}
		return
	}

	// Without a session the send is skipped before the view is touched.
	sess, err := c.actor(context.Background())
	if err != nil {
		c.log.Debug().Err(err).Str("conversation_id", sel.conversationID).Msg("send skipped, not authenticated")
		cmd.reply <- commandResult{generation: sel.generation, err: err}
		return
	}

	c.view.Sending = true
	c.view.Draft = cmd.draft.Content
	c.publish()

	gen, conversationID, draft, reply := sel.generation, sel.conversationID, cmd.draft, cmd.reply
	go func() {
		msg, err := c.deliver(context.Background(), sess, conversationID, draft)
		ev := event{kind: eventSendDone, generation: gen, conversationID: conversationID, draft: draft, reply: reply, err: err}
		if err == nil {
			ev.message = msg
		}
		select {
		case c.events <- ev:
		case <-c.done:
		}
	}()
}

// actor resolves the signed-in session. Session lookups are local: a cached
// session or the persisted token.
func (c *Controller) actor(ctx context.Context) (auth.Session, error) {
	if c.identity == nil || c.remote == nil {
		return auth.Session{}, remote.ErrNotAuthenticated
	}
	sess, err := c.identity.Session(ctx)
	if err != nil {
		if !errors.Is(err, remote.ErrNotAuthenticated) {
			err = fmt.Errorf("%w: %w", remote.ErrNotAuthenticated, err)
		}
		return auth.Session{}, err
	}
	if sess.UserID == "" {
		return auth.Session{}, remote.ErrNotAuthenticated
	}
	return sess, nil
}

// deliver uploads the attachment, if any, and inserts the message as sess.
func (c *Controller) deliver(ctx context.Context, sess auth.Session, conversationID string, d Draft) (model.Message, error) {
	var att *model.Attachment
	if d.File != nil && len(d.File.Data) > 0 {
		a, err := c.remote.Upload(ctx, d.File.Name, bytes.NewReader(d.File.Data))
		if err != nil {
			return model.Message{}, fmt.Errorf("upload attachment: %w", err)
		}
		att = &a
	}

	msg, err := c.remote.SendMessage(ctx, remote.NewMessage{
		ConversationID: conversationID,
		SenderID:       sess.UserID,
		Content:        d.Content,
		Attachment:     att,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

func (c *Controller) finishSend(ev event) {
	res := commandResult{generation: ev.generation, err: ev.err}
	if ev.err == nil {
		msg := ev.message
		res.message = &msg
	}
	defer func() { ev.reply <- res }()

	log := c.log.With().Str("conversation_id", ev.conversationID).Logger()
	switch {
	case errors.Is(ev.err, remote.ErrNotAuthenticated):
		log.Debug().Msg("send skipped, not authenticated")
	case ev.err != nil:
		log.Error().Err(ev.err).Msg("failed to send message")
	default:
		log.Debug().Str("message_id", ev.message.ID).Msg("message sent")
	}

	if !c.current(ev) {
		return
	}

	c.view.Sending = false
	switch {
	case errors.Is(ev.err, remote.ErrNotAuthenticated):
		c.view.Draft = ev.draft.Content
	case ev.err != nil:
		c.view.Draft = ev.draft.Content
		c.view.Error = coreError(ErrCodeSendFailed, "could not send message")
	default:
		c.view.Draft = ""
		if c.view.Error != nil && c.view.Error.Code == ErrCodeSendFailed {
			c.view.Error = nil
		}
	}
	c.publish()
}

// demoMessage builds an in-memory-only message. It is never sent or cached.
func (c *Controller) demoMessage(conversationID string, d Draft) model.Message {
	msg := model.Message{
		ID:             utils.NewDemoID(),
		ConversationID: conversationID,
		SenderID:       "demo-user",
		Content:        d.Content,
		CreatedAt:      c.now().UTC(),
		Sender:         model.Sender{Username: DemoSenderName},
	}
	if d.File != nil && len(d.File.Data) > 0 {
		kind := model.AttachmentDocument
		if strings.HasPrefix(mimetype.Detect(d.File.Data).String(), "image/") {
			kind = model.AttachmentImage
		}
		msg.Attachment = &model.Attachment{Name: d.File.Name, Kind: kind, URL: "demo://" + d.File.Name}
	}
	return msg.Normalize(model.SourceDemo)
}
