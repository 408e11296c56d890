package members

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/remote"
	"github.com/vovakirdan/wirechat-client/internal/service"
)

// Common errors for member operations.
var (
	ErrAlreadyMember = errors.New("user is already a member")
	ErrEmptyUserID   = errors.New("user id is empty")
)

// Service provides conversation membership management.
type Service struct {
	remote  remote.Store
	refresh service.Refresher
	log     *zerolog.Logger
}

// New creates a member service. refresh may be nil.
func New(rs remote.Store, refresh service.Refresher, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{remote: rs, refresh: refresh, log: logger}
}

func sortProfiles(ps []model.Profile) {
	sort.SliceStable(ps, func(i, j int) bool {
		return strings.ToLower(ps[i].Username) < strings.ToLower(ps[j].Username)
	})
}

// Members lists the participants of a conversation ordered by username.
func (s *Service) Members(ctx context.Context, conversationID string) ([]model.Profile, error) {
	ps, err := s.remote.Members(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	sortProfiles(ps)
	return ps, nil
}

// Candidates returns profiles that can be added: not yet members and matching query by username.
func (s *Service) Candidates(ctx context.Context, conversationID, query string) ([]model.Profile, error) {
	var all, current []model.Profile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ps, err := s.remote.Profiles(gctx)
		if err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
		all = ps
		return nil
	})
	g.Go(func() error {
		ps, err := s.remote.Members(gctx, conversationID)
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}
		current = ps
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	isMember := make(map[string]struct{}, len(current))
	for _, p := range current {
		isMember[p.ID] = struct{}{}
	}
	q := strings.ToLower(strings.TrimSpace(query))

	out := make([]model.Profile, 0, len(all))
	for _, p := range all {
		if _, ok := isMember[p.ID]; ok {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Username), q) {
			continue
		}
		out = append(out, p)
	}
	sortProfiles(out)
	return out, nil
}

// Add makes userID a participant.
func (s *Service) Add(ctx context.Context, conversationID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrEmptyUserID
	}

	current, err := s.remote.Members(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	for _, p := range current {
		if p.ID == userID {
			return ErrAlreadyMember
		}
	}

	if err := s.remote.AddMember(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	s.log.Info().Str("conversation_id", conversationID).Str("user_id", userID).Msg("member added")
	s.refreshed(ctx, conversationID)
	return nil
}

// Remove drops userID from the participants.
func (s *Service) Remove(ctx context.Context, conversationID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := s.remote.RemoveMember(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	s.log.Info().Str("conversation_id", conversationID).Str("user_id", userID).Msg("member removed")
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
