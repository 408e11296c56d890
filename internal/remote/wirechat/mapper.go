package wirechat

import (
	"strings"

	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func profileFromDTO(p proto.ProfileDTO) model.Profile {
	return model.Profile{
		ID:        p.ID,
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		Status:    p.Status,
		LastSeen:  p.LastSeen,
	}
}

func profilesFromDTO(in []proto.ProfileDTO) []model.Profile {
	out := make([]model.Profile, 0, len(in))
	for _, p := range in {
		out = append(out, profileFromDTO(p))
	}
	return out
}

// attachmentKind maps a stored MIME type onto the two attachment kinds.
func attachmentKind(fileType string) model.AttachmentKind {
	if strings.HasPrefix(fileType, "image/") || fileType == string(model.AttachmentImage) {
		return model.AttachmentImage
	}
	return model.AttachmentDocument
}

func messageFromDTO(m proto.MessageDTO, src model.Source) model.Message {
	msg := model.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if m.Sender != nil {
		msg.Sender = model.Sender{Username: m.Sender.Username, AvatarURL: m.Sender.AvatarURL}
	}
	if m.FileURL != "" {
		msg.Attachment = &model.Attachment{
			Name: m.FileName,
			Kind: attachmentKind(m.FileType),
			URL:  m.FileURL,
		}
	}
	return msg.Normalize(src)
}

func messagesFromDTO(in []proto.MessageDTO) []model.Message {
	out := make([]model.Message, 0, len(in))
	for _, m := range in {
		out = append(out, messageFromDTO(m, model.SourceRemote))
	}
	model.SortMessages(out)
	return out
}

func labelsFromDTO(in []proto.LabelDTO) []model.Label {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Label, 0, len(in))
	for _, l := range in {
		out = append(out, model.Label{ID: l.ID, Name: l.Name, Color: l.Color})
	}
	return out
}

func conversationFromDTO(c proto.ConversationDTO) model.Conversation {
	conv := model.Conversation{
		ID:        c.ID,
		Name:      c.Name,
		IsGroup:   c.IsGroup,
		AvatarURL: c.AvatarURL,
		UpdatedAt: c.UpdatedAt,
		Labels:    labelsFromDTO(c.Labels),
	}
	if c.LastMessage != nil {
		conv.LastMessage = &model.MessageSummary{
			Content:        c.LastMessage.Content,
			CreatedAt:      c.LastMessage.CreatedAt,
			SenderUsername: c.LastMessage.SenderUsername,
		}
	}
	if c.OtherUser != nil {
		p := profileFromDTO(*c.OtherUser)
		conv.OtherUser = &p
	}
	if len(c.Participants) > 0 {
		conv.Participants = profilesFromDTO(c.Participants)
	}
	return conv.Normalize(model.SourceRemote)
}

func sendRequest(senderID, content string, a *model.Attachment) proto.SendMessageRequest {
	req := proto.SendMessageRequest{SenderID: senderID, Content: content}
	if a != nil {
		req.FileURL = a.URL
		req.FileName = a.Name
		req.FileType = string(a.Kind)
	}
	return req
}
