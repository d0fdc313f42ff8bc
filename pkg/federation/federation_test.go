package federation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcord/hub/pkg/config"
	"github.com/xcord/hub/pkg/configgen"
	"github.com/xcord/hub/pkg/security"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/storage/storagetest"
	"github.com/xcord/hub/pkg/tier"
	"github.com/xcord/hub/pkg/types"
)

// seedInstance plants a Running instance whose infra row holds the hash
// of the returned bootstrap token, the state provisioning leaves behind.
func seedInstance(t *testing.T, store storage.Store, domain string) (*types.ManagedInstance, string) {
	t.Helper()
	ctx := context.Background()

	inst := &types.ManagedInstance{
		OwnerID: 7,
		Domain:  domain,
		Status:  types.InstanceStatusRunning,
	}
	require.NoError(t, store.CreateInstance(ctx, inst))

	bootstrap, err := security.GenerateBootstrapToken()
	require.NoError(t, err)
	hash := security.HashToken(bootstrap)
	require.NoError(t, store.CreateInfrastructure(ctx, &types.InstanceInfrastructure{
		InstanceID:         inst.ID,
		DBName:             "xcord_acme",
		DBPassword:         "pw12345",
		StorageAccessKey:   "AK",
		StorageSecretKey:   "SK",
		BootstrapTokenHash: &hash,
		InstanceKEK:        []byte("wrapped-instance-dek-material"),
	}))
	return inst, bootstrap
}

func TestExchangeMintsAndBurns(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	inst, bootstrap := seedInstance(t, store, "acme.xcord.io")
	svc := NewService(store)

	plaintext, err := svc.Exchange(ctx, "acme.xcord.io", bootstrap)
	require.NoError(t, err)
	require.NotEmpty(t, plaintext)
	assert.NotEqual(t, bootstrap, plaintext)

	// The one-time hash is burned.
	infra, err := store.GetInfrastructure(ctx, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, infra.BootstrapTokenHash)

	// The minted token authenticates and gets its use stamped.
	row, err := svc.Validate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, row.InstanceID)
	reloaded, err := store.GetFederationTokenByHash(ctx, security.HashToken(plaintext))
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastUsedAt)

	// Replaying the consumed bootstrap token fails.
	_, err = svc.Exchange(ctx, "acme.xcord.io", bootstrap)
	assert.ErrorIs(t, err, ErrExchangeDenied)
}

func TestExchangeWrongTokenLeavesHashIntact(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	inst, bootstrap := seedInstance(t, store, "acme.xcord.io")
	svc := NewService(store)

	_, err := svc.Exchange(ctx, "acme.xcord.io", "guessed-token")
	require.ErrorIs(t, err, ErrExchangeDenied)
	assert.NotContains(t, err.Error(), bootstrap)

	// A failed guess must not burn the real token.
	infra, err := store.GetInfrastructure(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, infra.BootstrapTokenHash)

	_, err = svc.Exchange(ctx, "acme.xcord.io", bootstrap)
	assert.NoError(t, err)
}

func TestExchangeUnknownDomainDenied(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	svc := NewService(store)

	_, err := svc.Exchange(ctx, "ghost.xcord.io", "anything")
	assert.ErrorIs(t, err, ErrExchangeDenied)
}

// TestExchangeRenderedToken closes the loop with the renderer: the
// token delivered in the config document is the one the hub accepts.
func TestExchangeRenderedToken(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	inst, _ := seedInstance(t, store, "acme.xcord.io")
	require.NoError(t, store.CreateBilling(ctx, &types.InstanceBilling{
		InstanceID:    inst.ID,
		FeatureTier:   types.FeatureTierChat,
		UserCountTier: 50,
		Status:        types.BillingStatusActive,
	}))
	workerID, err := store.AllocateWorkerID(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, store.SetInstanceWorkerID(ctx, inst.ID, workerID))
	inst, err = store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.BaseDomain = "xcord.io"
	cfg.Database.InstanceHost = "db.internal"
	cfg.Database.InstancePort = 5432
	cfg.Database.SSLMode = "disable"
	cfg.Redis.URL = "redis://cache.internal:6379"
	cfg.ObjectStore.Endpoint = "https://store.internal:9000"
	cfg.ObjectStore.BucketPrefix = "xcord"
	cfg.Media.Host = "media.internal:7880"
	cfg.Auth.BcryptWorkFactor = 12
	cfg.FederationEndpoint = "https://hub.xcord.io"
	catalog, err := tier.Default()
	require.NoError(t, err)

	doc, err := configgen.NewRenderer(cfg, catalog, store).RenderDocument(ctx, inst)
	require.NoError(t, err)
	var a configgen.Artifact
	require.NoError(t, json.Unmarshal(doc.JSON, &a))
	require.NotEmpty(t, a.Federation.BootstrapToken)

	plaintext, err := NewService(store).Exchange(ctx, "acme.xcord.io", a.Federation.BootstrapToken)
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
}

func TestValidateRejectsRevoked(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	_, bootstrap := seedInstance(t, store, "acme.xcord.io")
	svc := NewService(store)

	plaintext, err := svc.Exchange(ctx, "acme.xcord.io", bootstrap)
	require.NoError(t, err)
	row, err := svc.Validate(ctx, plaintext)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, row.ID))
	_, err = svc.Validate(ctx, plaintext)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateRejectsDestroyedInstance(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	inst, bootstrap := seedInstance(t, store, "acme.xcord.io")
	svc := NewService(store)

	plaintext, err := svc.Exchange(ctx, "acme.xcord.io", bootstrap)
	require.NoError(t, err)

	// The token row outlives the instance; validation must not.
	require.NoError(t, store.MarkInstanceDestroyed(ctx, inst.ID))
	_, err = svc.Validate(ctx, plaintext)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateUnknownToken(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	seedInstance(t, store, "acme.xcord.io")

	_, err := NewService(store).Validate(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

// racedStore loses every compare-and-clear, standing in for a
// concurrent exchange that burned the hash first.
type racedStore struct {
	*storagetest.Store
	mintedHash string
}

func (s *racedStore) CreateFederationToken(ctx context.Context, token *types.FederationToken) error {
	s.mintedHash = token.TokenHash
	return s.Store.CreateFederationToken(ctx, token)
}

func (s *racedStore) ClearBootstrapToken(context.Context, int64, string) (bool, error) {
	return false, nil
}

func TestExchangeLosingBurnRaceRevokesMint(t *testing.T) {
	ctx := context.Background()
	raced := &racedStore{Store: storagetest.New()}
	_, bootstrap := seedInstance(t, raced, "acme.xcord.io")
	svc := NewService(raced)

	_, err := svc.Exchange(ctx, "acme.xcord.io", bootstrap)
	require.ErrorIs(t, err, ErrExchangeDenied)

	// The token minted before the lost race is revoked, not dangling.
	require.NotEmpty(t, raced.mintedHash)
	_, err = raced.GetFederationTokenByHash(ctx, raced.mintedHash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
