// Package retention bounds local cache growth by periodically evicting old and overflowing messages.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/cache"
)

// DefaultCron runs eviction every six hours.
const DefaultCron = "0 */6 * * *"

// ErrRunInProgress is returned by RunOnce when a previous pass is still running.
var ErrRunInProgress = errors.New("retention run already in progress")

// Pruner is the subset of the cache handle used for eviction.
type Pruner interface {
	Prune(ctx context.Context, policy cache.PrunePolicy) (cache.PruneResult, error)
}

// Policy describes what a pass evicts. Zero values disable the respective rule.
type Policy struct {
	MaxAge                     time.Duration
	MaxMessagesPerConversation int
}

// Manager runs eviction passes on a cron schedule.
type Manager struct {
	store   Pruner
	policy  Policy
	cron    string
	log     *zerolog.Logger
	now     func() time.Time
	running atomic.Bool
}

// New creates a manager. An empty cron expression selects DefaultCron.
func New(store Pruner, policy Policy, cronExpr string, logger *zerolog.Logger) (*Manager, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %q", cronExpr)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		store:  store,
		policy: policy,
		cron:   cronExpr,
		log:    logger,
		now:    time.Now,
	}, nil
}

// PrunePolicy resolves the policy against the given instant.
func (p Policy) PrunePolicy(now time.Time) cache.PrunePolicy {
	pp := cache.PrunePolicy{MaxMessagesPerConversation: p.MaxMessagesPerConversation}
	if p.MaxAge > 0 {
		pp.Before = now.Add(-p.MaxAge).UTC()
	}
	return pp
}

// RunOnce runs a single eviction pass. Overlapping calls return ErrRunInProgress.
func (m *Manager) RunOnce(ctx context.Context) (cache.PruneResult, error) {
	if !m.running.CompareAndSwap(false, true) {
		return cache.PruneResult{}, ErrRunInProgress
	}
	defer m.running.Store(false)

	started := m.now()
	res, err := m.store.Prune(ctx, m.policy.PrunePolicy(started))
	if err != nil {
		return cache.PruneResult{}, fmt.Errorf("prune cache: %w", err)
	}

	m.log.Info().
		Int("messages", res.Messages).
		Int("conversations", res.Conversations).
		Dur("took", m.now().Sub(started)).
		Msg("cache retention pass completed")
	return res, nil
}

// NextRun returns the next scheduled tick after ref.
func (m *Manager) NextRun(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(m.cron, ref, false)
}

// Start blocks, running passes on schedule until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.log.Info().Str("cron", m.cron).Msg("cache retention scheduler started")
	defer m.log.Info().Msg("cache retention scheduler stopped")

	for {
		next, err := m.NextRun(m.now().UTC())
		if err != nil {
			m.log.Error().Err(err).Str("cron", m.cron).Msg("failed to compute next retention tick")
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}

		wait := next.Sub(m.now())
		if wait < time.Second {
			wait = time.Second
		}
		if !sleep(ctx, wait) {
			return
		}

		go func() {
			_, err := m.RunOnce(ctx)
			switch {
			case errors.Is(err, ErrRunInProgress):
				m.log.Debug().Msg("skipping retention pass, previous still running")
			case errors.Is(err, cache.ErrStorageUnavailable):
				m.log.Debug().Err(err).Msg("skipping retention pass, cache unavailable")
			case err != nil:
				m.log.Warn().Err(err).Msg("cache retention pass failed")
			}
		}()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
