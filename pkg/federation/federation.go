// Package federation implements the call-home token exchange between
// hosted instances and the hub.
//
// Provisioning renders a one-time bootstrap token into the instance's
// config document and stores only its SHA-256 on the infrastructure
// row. On first boot the instance posts the plaintext back. A valid
// exchange burns the stored hash and mints a long-lived federation
// token, which is again stored only as a hash and returned in
// plaintext exactly once. Every container (re)start rotates the
// bootstrap token at render time, so a lost federation token is
// recovered by restarting the instance, not by any hub-side reveal.
//
// All exchange failures surface as the same ErrExchangeDenied: the
// caller must not learn whether the domain, the token value, or the
// token's freshness was wrong. The precise reason goes to the log and
// the result-labelled exchange counter.
package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/metrics"
	"github.com/xcord/hub/pkg/security"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

var (
	// ErrExchangeDenied covers every way a bootstrap exchange can be
	// refused. Deliberately unspecific.
	ErrExchangeDenied = errors.New("bootstrap exchange denied")

	// ErrTokenInvalid covers unknown, revoked, and orphaned federation
	// tokens presented for validation.
	ErrTokenInvalid = errors.New("federation token invalid")
)

// Service performs bootstrap exchanges and federation token checks
// against orchestrator state.
type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Exchange trades a one-time bootstrap token for a long-lived
// federation token. The returned plaintext is shown exactly once; only
// its hash persists. The bootstrap hash is burned with a
// compare-and-clear, so a concurrent duplicate exchange loses and the
// token it may have minted is revoked again before anyone saw it.
func (s *Service) Exchange(ctx context.Context, domain, bootstrapToken string) (string, error) {
	logger := log.WithComponent("federation")

	inst, err := s.store.GetLiveInstanceByDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", s.deny(logger, domain, "no live instance for domain")
		}
		metrics.FederationExchanges.WithLabelValues("error").Inc()
		return "", fmt.Errorf("loading instance for %s: %w", domain, err)
	}

	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", s.deny(logger, domain, "instance has no infrastructure")
		}
		metrics.FederationExchanges.WithLabelValues("error").Inc()
		return "", fmt.Errorf("loading infrastructure for %s: %w", domain, err)
	}
	if infra.BootstrapTokenHash == nil {
		return "", s.deny(logger, domain, "bootstrap token already consumed")
	}
	if !security.VerifyTokenHash(bootstrapToken, *infra.BootstrapTokenHash) {
		return "", s.deny(logger, domain, "bootstrap token mismatch")
	}

	plaintext, err := security.GenerateFederationToken()
	if err != nil {
		metrics.FederationExchanges.WithLabelValues("error").Inc()
		return "", fmt.Errorf("generating federation token: %w", err)
	}
	token := &types.FederationToken{
		InstanceID: inst.ID,
		TokenHash:  security.HashToken(plaintext),
	}
	if err := s.store.CreateFederationToken(ctx, token); err != nil {
		metrics.FederationExchanges.WithLabelValues("error").Inc()
		return "", fmt.Errorf("storing federation token: %w", err)
	}

	// Mint first, burn second: a crash here leaves the bootstrap token
	// live and the next attempt simply mints another row. The reverse
	// order would strand the instance with nothing to exchange.
	burned, err := s.store.ClearBootstrapToken(ctx, inst.ID, *infra.BootstrapTokenHash)
	if err != nil {
		metrics.FederationExchanges.WithLabelValues("error").Inc()
		return "", fmt.Errorf("burning bootstrap token: %w", err)
	}
	if !burned {
		// Lost the race (or a render rotated the hash mid-exchange).
		// Take back the token we just minted.
		if rerr := s.store.RevokeFederationToken(ctx, token.ID); rerr != nil {
			logger.Warn().Err(rerr).Int64("instance_id", inst.ID).
				Msg("revoking token from lost exchange race")
		}
		return "", s.deny(logger, domain, "bootstrap token burned concurrently")
	}

	metrics.FederationExchanges.WithLabelValues("success").Inc()
	logger.Info().Int64("instance_id", inst.ID).Str("domain", domain).
		Msg("bootstrap token exchanged")
	return plaintext, nil
}

// Validate authenticates a federation token and stamps its last use.
// Tokens of destroyed or suspended-then-destroyed instances fail even
// though their rows outlive the instance.
func (s *Service) Validate(ctx context.Context, token string) (*types.FederationToken, error) {
	row, err := s.store.GetFederationTokenByHash(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("loading federation token: %w", err)
	}

	inst, err := s.store.GetInstance(ctx, row.InstanceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("loading instance %d: %w", row.InstanceID, err)
	}
	if inst.Status == types.InstanceStatusDestroyed || inst.DeletedAt != nil {
		return nil, ErrTokenInvalid
	}

	if err := s.store.TouchFederationToken(ctx, row.ID); err != nil {
		// Bookkeeping only; the token is already proven good.
		logger := log.WithComponent("federation")
		logger.Warn().Err(err).
			Int64("token_id", row.ID).Msg("stamping token last use")
	}
	return row, nil
}

// Revoke invalidates a federation token by ID. The instance gets a new
// one by exchanging a fresh bootstrap token after its next restart.
func (s *Service) Revoke(ctx context.Context, id int64) error {
	if err := s.store.RevokeFederationToken(ctx, id); err != nil {
		return fmt.Errorf("revoking federation token %d: %w", id, err)
	}
	logger := log.WithComponent("federation")
	logger.Info().Int64("token_id", id).Msg("federation token revoked")
	return nil
}

func (s *Service) deny(logger zerolog.Logger, domain, reason string) error {
	metrics.FederationExchanges.WithLabelValues("denied").Inc()
	logger.Warn().Str("domain", domain).Str("reason", reason).Msg("bootstrap exchange denied")
	return ErrExchangeDenied
}
