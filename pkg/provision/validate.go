package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/tier"
	"github.com/xcord/hub/pkg/types"
)

// labelRe matches a DNS label: lowercase alphanumeric with inner
// hyphens, 3-63 characters. The 3-character floor keeps vanity
// squatting on ultra-short names out of the shared zone.
var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])$`)

// reservedLabels are subdomains the platform keeps for itself.
var reservedLabels = map[string]struct{}{
	"www":    {},
	"api":    {},
	"hub":    {},
	"admin":  {},
	"status": {},
	"mail":   {},
	"smtp":   {},
}

// ValidateDomain checks an instance domain's shape against the hub's
// base zone. The API intake and the ValidateSubdomain step share it.
func ValidateDomain(domain, baseDomain string) error {
	suffix := "." + baseDomain
	if !strings.HasSuffix(domain, suffix) {
		return fmt.Errorf("domain %q is not under %q", domain, baseDomain)
	}
	label := strings.TrimSuffix(domain, suffix)
	if strings.Contains(label, ".") {
		return fmt.Errorf("domain %q nests below a subdomain", domain)
	}
	if !labelRe.MatchString(label) {
		return fmt.Errorf("subdomain %q must be 3-63 lowercase alphanumeric characters with inner hyphens", label)
	}
	if _, ok := reservedLabels[label]; ok {
		return fmt.Errorf("subdomain %q is reserved", label)
	}
	return nil
}

// validateSubdomain re-checks domain shape and uniqueness. The API
// intake already did both; a stale queue entry or a racing request can
// still lose, and losing here is cheaper than losing at DNS time.
type validateSubdomain struct {
	store      storage.Store
	baseDomain string
}

func (s *validateSubdomain) Name() string { return "ValidateSubdomain" }

func (s *validateSubdomain) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	if err := ValidateDomain(inst.Domain, s.baseDomain); err != nil {
		return pipeline.Wrap(pipeline.CodeValidationFailed, err, "invalid domain")
	}

	holder, err := s.store.GetLiveInstanceByDomain(ctx, inst.Domain)
	if errors.Is(err, storage.ErrNotFound) {
		// Nothing holds the domain; our own row must have been
		// soft-deleted under us, which a later step will surface.
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking domain uniqueness: %w", err)
	}
	if holder.ID != inst.ID {
		return pipeline.Errorf(pipeline.CodeDomainTaken, "domain %s is held by instance %d", inst.Domain, holder.ID)
	}
	return nil
}

func (s *validateSubdomain) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}

// enforceTierLimits rejects owners who already run their tier's maximum
// number of live instances.
type enforceTierLimits struct {
	store   storage.Store
	catalog *tier.Catalog
}

func (s *enforceTierLimits) Name() string { return "EnforceTierLimits" }

func (s *enforceTierLimits) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	billing, err := s.store.GetBilling(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeValidationFailed, "instance %d has no billing record", inst.ID)
		}
		return fmt.Errorf("loading billing: %w", err)
	}

	max, err := s.catalog.MaxInstances(billing.FeatureTier)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeValidationFailed, err, "unknown tier")
	}
	if max < 0 {
		return nil // unlimited
	}

	// The count includes this instance's own pending row.
	count, err := s.store.CountLiveInstancesByOwner(ctx, inst.OwnerID)
	if err != nil {
		return fmt.Errorf("counting live instances for owner %d: %w", inst.OwnerID, err)
	}
	if count > max {
		return pipeline.Errorf(pipeline.CodeTierLimitExceeded,
			"owner %d has %d live instances, tier %s allows %d", inst.OwnerID, count, billing.FeatureTier, max)
	}
	return nil
}

func (s *enforceTierLimits) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}
