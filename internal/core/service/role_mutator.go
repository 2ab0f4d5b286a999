package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
	"github.com/triboar/guild-sync/internal/metrics"
)

const (
	memberLockStripes = 64

	reasonGrant  = "Subscription active"
	reasonRevoke = "Subscription ended"
)

type roleMutator struct {
	platform ports.GuildPlatform
	locks    [memberLockStripes]sync.Mutex
	log      zerolog.Logger
}

// NewRoleMutator returns a RoleMutator backed by the given platform.
func NewRoleMutator(platform ports.GuildPlatform, log zerolog.Logger) ports.RoleMutator {
	return &roleMutator{
		platform: platform,
		log:      log.With().Str("component", "role_mutator").Logger(),
	}
}

// Ensure converges memberID's role presence to present.
//
// A missing member is vacuously correct for removal and a hard failure for a grant.
// Permission failures are reported, never retried.
func (m *roleMutator) Ensure(ctx context.Context, memberID string, present bool) domain.RoleOutcome {
	action := "revoke"
	if present {
		action = "grant"
	}

	out := m.ensure(ctx, memberID, present)
	metrics.RoleMutationsTotal.WithLabelValues(action, string(out.Status)).Inc()

	switch out.Status {
	case domain.RoleApplied:
		m.log.Info().Str("user_id", memberID).Str("action", action).Msg("role updated")
	case domain.RoleAlreadyCorrect:
		m.log.Debug().Str("user_id", memberID).Str("action", action).Msg("role already correct")
	case domain.RoleFailed:
		m.log.Warn().Err(out.Err).
			Str("user_id", memberID).
			Str("action", action).
			Str("error_class", string(domain.ClassOf(out.Err))).
			Msg("role mutation failed")
	}
	return out
}

func (m *roleMutator) ensure(ctx context.Context, memberID string, present bool) domain.RoleOutcome {
	// Check-then-act must not interleave for the same member within this process.
	mu := m.lockFor(memberID)
	mu.Lock()
	defer mu.Unlock()

	has, err := m.platform.HasRole(ctx, memberID)
	if err != nil {
		return m.failure(memberID, present, fmt.Errorf("lookup member: %w", err))
	}
	if has == present {
		return domain.RoleAlreadyCorrectOutcome()
	}

	if present {
		err = m.platform.AddRole(ctx, memberID, reasonGrant)
	} else {
		err = m.platform.RemoveRole(ctx, memberID, reasonRevoke)
	}
	if err != nil {
		return m.failure(memberID, present, fmt.Errorf("mutate role: %w", err))
	}
	return domain.RoleAppliedOutcome()
}

func (m *roleMutator) failure(memberID string, present bool, err error) domain.RoleOutcome {
	if !present && errors.Is(err, domain.ErrMemberNotFound) {
		m.log.Debug().Str("user_id", memberID).Msg("member left the guild, nothing to remove")
		return domain.RoleAlreadyCorrectOutcome()
	}
	return domain.RoleFailedOutcome(err)
}

// lockFor maps a member id deterministically to a lock stripe.
func (m *roleMutator) lockFor(memberID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(memberID))
	return &m.locks[h.Sum32()%memberLockStripes]
}
