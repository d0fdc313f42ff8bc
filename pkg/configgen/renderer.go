package configgen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xcord/hub/pkg/config"
	"github.com/xcord/hub/pkg/security"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/tier"
	"github.com/xcord/hub/pkg/types"
)

// MountPath is where the engine materializes the config secret inside
// the instance container. The application reads it at boot.
const MountPath = "/run/secrets/xcord-config"

// ErrIncomplete marks an infrastructure row whose credential fields are
// not all populated yet, or an instance missing its worker ID.
var ErrIncomplete = errors.New("infrastructure record incomplete")

const (
	rateWindowSeconds    = 60
	outboxPollIntervalMs = 1000
	outboxBatchSize      = 50
)

// Artifact is the JSON document delivered to an instance container.
// The key names are the application's boot contract and never change
// casually; adding keys is fine, renaming them is a breaking change.
type Artifact struct {
	Database struct {
		ConnectionString string `json:"connectionString"`
	} `json:"database"`
	Redis struct {
		ConnectionString string `json:"connectionString"`
		ChannelPrefix    string `json:"channelPrefix"`
	} `json:"redis"`
	JWT struct {
		Issuer   string `json:"issuer"`
		Audience string `json:"audience"`
	} `json:"jwt"`
	Storage struct {
		Endpoint     string `json:"endpoint"`
		AccessKey    string `json:"accessKey"`
		SecretKey    string `json:"secretKey"`
		Bucket       string `json:"bucket"`
		UseSSL       bool   `json:"useSsl"`
		RootFallback bool   `json:"rootFallback,omitempty"`
	} `json:"storage"`
	LiveKit struct {
		Host      string `json:"host"`
		APIKey    string `json:"apiKey"`
		APISecret string `json:"apiSecret"`
	} `json:"livekit"`
	CORS struct {
		AllowedOrigins []string `json:"allowedOrigins"`
	} `json:"cors"`
	Instance struct {
		Domain string `json:"domain"`
		Name   string `json:"name"`
	} `json:"instance"`
	Snowflake struct {
		WorkerID int64 `json:"workerId"`
	} `json:"snowflake"`
	Email struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Username string `json:"username"`
		Password string `json:"password"`
		From     string `json:"from"`
	} `json:"email"`
	RateLimiting struct {
		RequestsPerMinute int `json:"requestsPerMinute"`
		WindowSeconds     int `json:"windowSeconds"`
	} `json:"rateLimiting"`
	Auth struct {
		BcryptWorkFactor int `json:"bcryptWorkFactor"`
	} `json:"auth"`
	Encryption struct {
		// KEK is the per-instance data key wrapped under the hub KEK,
		// base64. The instance unwraps it through the key service.
		KEK string `json:"kek"`
	} `json:"encryption"`
	Outbox struct {
		PollIntervalMs int `json:"pollIntervalMs"`
		BatchSize      int `json:"batchSize"`
	} `json:"outbox"`
	Tier struct {
		Features tier.Flags  `json:"features"`
		Limits   tier.Limits `json:"limits"`
	} `json:"tier"`
	Federation struct {
		HubEndpoint string `json:"hubEndpoint"`
		// BootstrapToken is one-time: the instance exchanges it for a
		// federation token on first boot. Rotated on every render so
		// the stored hash always matches the delivered secret.
		BootstrapToken string `json:"bootstrapToken"`
	} `json:"federation"`
}

// Document is a rendered artifact plus the resource limits the
// container step applies alongside it.
type Document struct {
	JSON   []byte
	Limits tier.Limits
	Flags  tier.Flags
}

// Renderer builds instance config documents from hub configuration,
// the tier catalog, and the instance's stored infrastructure row.
type Renderer struct {
	cfg     *config.Config
	catalog *tier.Catalog
	store   storage.Store
}

// NewRenderer creates a renderer.
func NewRenderer(cfg *config.Config, catalog *tier.Catalog, store storage.Store) *Renderer {
	return &Renderer{cfg: cfg, catalog: catalog, store: store}
}

// RenderDocument builds the full secret-bearing artifact for one
// instance. It rotates the bootstrap token as a side effect: a fresh
// token goes into the document and its hash replaces the stored one.
// The document itself is never persisted; it only ever exists inside
// the engine secret.
func (r *Renderer) RenderDocument(ctx context.Context, inst *types.ManagedInstance) (*Document, error) {
	if inst.WorkerID == nil {
		return nil, fmt.Errorf("instance %d has no worker ID: %w", inst.ID, ErrIncomplete)
	}

	infra, err := r.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("loading infrastructure for instance %d: %w", inst.ID, err)
	}
	if infra.DBPassword == "" || infra.StorageAccessKey == "" || infra.StorageSecretKey == "" || len(infra.InstanceKEK) == 0 {
		return nil, fmt.Errorf("instance %d credentials not fully generated: %w", inst.ID, ErrIncomplete)
	}

	billing, err := r.store.GetBilling(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("loading billing for instance %d: %w", inst.ID, err)
	}
	limits, flags, err := r.catalog.Resolve(billing.FeatureTier, billing.UserCountTier, billing.HDUpgrade)
	if err != nil {
		return nil, fmt.Errorf("resolving tier for instance %d: %w", inst.ID, err)
	}

	token, err := security.GenerateBootstrapToken()
	if err != nil {
		return nil, fmt.Errorf("generating bootstrap token: %w", err)
	}
	hash := security.HashToken(token)
	infra.BootstrapTokenHash = &hash
	if err := r.store.UpdateInfrastructure(ctx, infra); err != nil {
		return nil, fmt.Errorf("storing rotated bootstrap token hash: %w", err)
	}

	var a Artifact
	a.Database.ConnectionString = r.instanceDSN(infra)
	a.Redis.ConnectionString = r.redisURL(infra)
	a.Redis.ChannelPrefix = channelPrefix(inst)
	a.JWT.Issuer = jwtIssuer(inst)
	a.JWT.Audience = inst.Domain
	a.Storage.Endpoint = r.cfg.ObjectStore.Endpoint
	a.Storage.AccessKey = infra.StorageAccessKey
	a.Storage.SecretKey = infra.StorageSecretKey
	a.Storage.Bucket = inst.BucketName(r.cfg.ObjectStore.BucketPrefix)
	a.Storage.UseSSL = r.cfg.ObjectStore.UseSSL
	a.Storage.RootFallback = infra.StorageRootFallback
	a.LiveKit.Host = r.cfg.Media.Host
	a.LiveKit.APIKey = infra.MediaAPIKey
	a.LiveKit.APISecret = infra.MediaSecretKey
	a.CORS.AllowedOrigins = allowedOrigins(inst)
	a.Instance.Domain = inst.Domain
	a.Instance.Name = inst.DisplayName
	a.Snowflake.WorkerID = *inst.WorkerID
	a.Email.Host = r.cfg.Email.Host
	a.Email.Port = r.cfg.Email.Port
	a.Email.Username = r.cfg.Email.Username
	a.Email.Password = r.cfg.Email.Password
	a.Email.From = r.cfg.Email.From
	a.RateLimiting.RequestsPerMinute = limits.RateLimitPerMinute
	a.RateLimiting.WindowSeconds = rateWindowSeconds
	a.Auth.BcryptWorkFactor = r.cfg.Auth.BcryptWorkFactor
	a.Encryption.KEK = base64.StdEncoding.EncodeToString(infra.InstanceKEK)
	a.Outbox.PollIntervalMs = outboxPollIntervalMs
	a.Outbox.BatchSize = outboxBatchSize
	a.Tier.Features = flags
	a.Tier.Limits = limits
	a.Federation.HubEndpoint = r.cfg.FederationEndpoint
	a.Federation.BootstrapToken = token

	raw, err := json.MarshalIndent(&a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding config document: %w", err)
	}
	return &Document{JSON: raw, Limits: limits, Flags: flags}, nil
}

// Regenerate rebuilds the stored, non-secret config row for an instance
// and bumps its version. Called when the instance is first requested
// and again on every tier change; the next container (re)start renders
// a fresh document from the new tier.
func (r *Renderer) Regenerate(ctx context.Context, inst *types.ManagedInstance) (*types.InstanceConfig, error) {
	billing, err := r.store.GetBilling(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("loading billing for instance %d: %w", inst.ID, err)
	}
	limits, flags, err := r.catalog.Resolve(billing.FeatureTier, billing.UserCountTier, billing.HDUpgrade)
	if err != nil {
		return nil, fmt.Errorf("resolving tier for instance %d: %w", inst.ID, err)
	}

	core, err := json.Marshal(r.coreDocument(inst, limits))
	if err != nil {
		return nil, fmt.Errorf("encoding core config: %w", err)
	}
	limitsJSON, err := json.Marshal(limits)
	if err != nil {
		return nil, fmt.Errorf("encoding limits: %w", err)
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("encoding flags: %w", err)
	}

	row, err := r.store.GetConfig(ctx, inst.ID)
	if errors.Is(err, storage.ErrNotFound) {
		row = &types.InstanceConfig{
			InstanceID:         inst.ID,
			ConfigJSON:         string(core),
			ResourceLimitsJSON: string(limitsJSON),
			FeatureFlagsJSON:   string(flagsJSON),
			Version:            1,
		}
		if err := r.store.CreateConfig(ctx, row); err != nil {
			return nil, fmt.Errorf("creating config row: %w", err)
		}
		return row, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config for instance %d: %w", inst.ID, err)
	}

	row.ConfigJSON = string(core)
	row.ResourceLimitsJSON = string(limitsJSON)
	row.FeatureFlagsJSON = string(flagsJSON)
	row.Version++
	if err := r.store.UpdateConfig(ctx, row); err != nil {
		return nil, fmt.Errorf("updating config row: %w", err)
	}
	return row, nil
}

// coreDocument is the secret-free slice of the artifact stored in the
// instance_configs row for operators and tier-change diffing.
func (r *Renderer) coreDocument(inst *types.ManagedInstance, limits tier.Limits) map[string]interface{} {
	return map[string]interface{}{
		"instance": map[string]string{
			"domain": inst.Domain,
			"name":   inst.DisplayName,
		},
		"jwt": map[string]string{
			"issuer":   jwtIssuer(inst),
			"audience": inst.Domain,
		},
		"cors": map[string]interface{}{
			"allowedOrigins": allowedOrigins(inst),
		},
		"redis": map[string]string{
			"channelPrefix": channelPrefix(inst),
		},
		"rateLimiting": map[string]int{
			"requestsPerMinute": limits.RateLimitPerMinute,
			"windowSeconds":     rateWindowSeconds,
		},
		"outbox": map[string]int{
			"pollIntervalMs": outboxPollIntervalMs,
			"batchSize":      outboxBatchSize,
		},
	}
}

// instanceDSN builds the tenant database connection string. Generated
// passwords are alphanumeric, so no URL escaping is needed.
func (r *Renderer) instanceDSN(infra *types.InstanceInfrastructure) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		infra.DBName,
		infra.DBPassword,
		r.cfg.Database.InstanceHost,
		r.cfg.Database.InstancePort,
		infra.DBName,
		r.cfg.Database.SSLMode,
	)
}

// redisURL appends the instance's logical database index when one is
// assigned; index 0 shares the default keyspace.
func (r *Renderer) redisURL(infra *types.InstanceInfrastructure) string {
	if infra.RedisDB <= 0 {
		return r.cfg.Redis.URL
	}
	return fmt.Sprintf("%s/%d", strings.TrimRight(r.cfg.Redis.URL, "/"), infra.RedisDB)
}

func jwtIssuer(inst *types.ManagedInstance) string {
	return "https://" + inst.Domain
}

func allowedOrigins(inst *types.ManagedInstance) []string {
	return []string{"https://" + inst.Domain}
}

func channelPrefix(inst *types.ManagedInstance) string {
	return inst.Subdomain() + ":"
}
