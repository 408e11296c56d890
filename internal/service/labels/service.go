package labels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/remote"
	"github.com/vovakirdan/wirechat-client/internal/service"
)

// DefaultColor is used when a label is created without a color.
const DefaultColor = "#3B82F6"

// Common errors for label operations.
var (
	ErrEmptyName    = errors.New("label name is empty")
	ErrInvalidColor = errors.New("label color must be #RRGGBB")
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Palette returns the colors offered when creating a label.
func Palette() []string {
	return []string{
		"#EF4444", "#3B82F6", "#10B981", "#F59E0B",
		"#8B5CF6", "#EC4899", "#06B6D4", "#84CC16",
	}
}

// Service manages conversation labels through remote procedures.
type Service struct {
	remote  remote.Store
	refresh service.Refresher
	log     *zerolog.Logger
}

// New creates a label service. refresh may be nil.
func New(rs remote.Store, refresh service.Refresher, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{remote: rs, refresh: refresh, log: logger}
}

func labelsFromDTO(dtos []proto.LabelDTO) []model.Label {
	out := make([]model.Label, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.Label{ID: d.ID, Name: d.Name, Color: d.Color})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns every label ordered by name.
func (s *Service) List(ctx context.Context) ([]model.Label, error) {
	var dtos []proto.LabelDTO
	if err := s.remote.Call(ctx, proto.RPCListLabels, struct{}{}, &dtos); err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return labelsFromDTO(dtos), nil
}

// Create adds a label. An empty color selects DefaultColor.
func (s *Service) Create(ctx context.Context, name, color string) (model.Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Label{}, ErrEmptyName
	}
	color = strings.TrimSpace(color)
	if color == "" {
		color = DefaultColor
	}
	if !colorPattern.MatchString(color) {
		return model.Label{}, ErrInvalidColor
	}
	color = strings.ToUpper(color)

	var dto proto.LabelDTO
	params := proto.CreateLabelParams{Name: name, Color: color}
	if err := s.remote.Call(ctx, proto.RPCCreateLabel, params, &dto); err != nil {
		return model.Label{}, fmt.Errorf("create label: %w", err)
	}
	s.log.Info().Str("label_id", dto.ID).Str("name", dto.Name).Msg("label created")
	return model.Label{ID: dto.ID, Name: dto.Name, Color: dto.Color}, nil
}

// ForConversation returns the labels attached to a conversation.
func (s *Service) ForConversation(ctx context.Context, conversationID string) ([]model.Label, error) {
	var dtos []proto.LabelDTO
	params := proto.ConversationParams{ConversationID: conversationID}
	if err := s.remote.Call(ctx, proto.RPCConversationLabels, params, &dtos); err != nil {
		return nil, fmt.Errorf("conversation labels: %w", err)
	}
	return labelsFromDTO(dtos), nil
}

// Available returns the labels not yet attached to a conversation.
func (s *Service) Available(ctx context.Context, conversationID string) ([]model.Label, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	attached, err := s.ForConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(attached))
	for _, l := range attached {
		seen[l.ID] = struct{}{}
	}
	out := make([]model.Label, 0, len(all))
	for _, l := range all {
		if _, ok := seen[l.ID]; !ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// Attach tags a conversation with a label.
func (s *Service) Attach(ctx context.Context, conversationID, labelID string) error {
	params := proto.ConversationLabelParams{ConversationID: conversationID, LabelID: labelID}
	if err := s.remote.Call(ctx, proto.RPCAttachLabel, params, nil); err != nil {
		return fmt.Errorf("attach label: %w", err)
	}
	s.refreshed(ctx, conversationID)
	return nil
}

// Detach removes a label from a conversation.
func (s *Service) Detach(ctx context.Context, conversationID, labelID string) error {
	params := proto.ConversationLabelParams{ConversationID: conversationID, LabelID: labelID}
	if err := s.remote.Call(ctx, proto.RPCDetachLabel, params, nil); err != nil {
		return fmt.Errorf("detach label: %w", err)
	}
	s.refreshed(ctx, conversationID)
	return nil
}

func (s *Service) refreshed(ctx context.Context, conversationID string) {
	if s.refresh == nil {
		return
	}
	if err := s.refresh.RefreshConversation(ctx, conversationID); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to refresh conversation metadata")
	}
}
