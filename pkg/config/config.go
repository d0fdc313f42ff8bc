package config

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Config is the full orchestrator configuration, bound from HUB_*
// environment variables with an optional YAML file underneath.
type Config struct {
	Log struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`

	// WorkerID is this hub process's snowflake worker ID. IDs 0-10 are
	// reserved for hub infrastructure; instances get 11-1023.
	WorkerID int64 `mapstructure:"worker_id" validate:"min=0,max=10"`

	Database struct {
		// URL is the hub control-plane database.
		URL string `mapstructure:"url" validate:"required"`
		// MaintenanceURL connects to the instance cluster's maintenance
		// database with CREATEDB/CREATEROLE rights.
		MaintenanceURL string `mapstructure:"maintenance_url" validate:"required"`
		// InstanceHost/InstancePort are what provisioned instances use to
		// reach their own database (the address rendered into configs).
		InstanceHost string `mapstructure:"instance_host" validate:"required"`
		InstancePort int    `mapstructure:"instance_port" validate:"min=1,max=65535"`
		SSLMode      string `mapstructure:"ssl_mode"`
	} `mapstructure:"database"`

	Redis struct {
		// URL is the shared cache endpoint handed to every instance.
		URL string `mapstructure:"url" validate:"required"`
	} `mapstructure:"redis"`

	Engine struct {
		// Endpoint is the container engine API address
		// (e.g. unix:///var/run/docker.sock or tcp://10.0.0.5:2376).
		Endpoint string `mapstructure:"endpoint" validate:"required"`
		// SharedNetwork is the pre-existing infra network every instance
		// container also joins (reaching redis, the media server, smtp).
		SharedNetwork string `mapstructure:"shared_network" validate:"required"`
		// InstanceImage is the application image started for each tenant.
		InstanceImage string `mapstructure:"instance_image" validate:"required"`
	} `mapstructure:"engine"`

	DNS struct {
		ZoneID    string `mapstructure:"zone_id" validate:"required"`
		GatewayIP string `mapstructure:"gateway_ip" validate:"required,ip"`
		// Resolver is the recursive resolver the reconciler probes
		// against (host:port).
		Resolver string `mapstructure:"resolver"`
	} `mapstructure:"dns"`

	Proxy struct {
		AdminURL string `mapstructure:"admin_url" validate:"required,url"`
		Server   string `mapstructure:"server"`
	} `mapstructure:"proxy"`

	ObjectStore struct {
		Endpoint     string `mapstructure:"endpoint" validate:"required,url"`
		AdminURL     string `mapstructure:"admin_url" validate:"required,url"`
		RootUser     string `mapstructure:"root_user" validate:"required"`
		RootPassword string `mapstructure:"root_password" validate:"required"`
		BucketPrefix string `mapstructure:"bucket_prefix" validate:"required,hostname_rfc1123"`
		UseSSL       bool   `mapstructure:"use_ssl"`
	} `mapstructure:"object_store"`

	Media struct {
		Host string `mapstructure:"host" validate:"required"`
	} `mapstructure:"media"`

	Email struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"email"`

	// BaseDomain is the zone suffix instances live under
	// (e.g. "example.com" for acme.example.com).
	BaseDomain string `mapstructure:"base_domain" validate:"required,fqdn"`

	// FederationEndpoint is the hub URL instances call home to with their
	// bootstrap token.
	FederationEndpoint string `mapstructure:"federation_endpoint" validate:"required,url"`

	// KEKFile is the mounted path of the 32-byte hub key-encryption key.
	KEKFile string `mapstructure:"kek_file" validate:"required"`

	// TierCatalogFile optionally overrides the built-in tier catalog.
	TierCatalogFile string `mapstructure:"tier_catalog_file"`

	Worker struct {
		PollInterval string `mapstructure:"poll_interval"`
		Concurrency  int    `mapstructure:"concurrency" validate:"min=1,max=32"`
	} `mapstructure:"worker"`

	Reconciler struct {
		Enabled  bool   `mapstructure:"enabled"`
		Schedule string `mapstructure:"schedule"`
		SelfHeal bool   `mapstructure:"self_heal"`
	} `mapstructure:"reconciler"`

	API struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"api"`

	Auth struct {
		BcryptWorkFactor int `mapstructure:"bcrypt_work_factor" validate:"min=10,max=16"`
	} `mapstructure:"auth"`
}

// Load reads configuration from an optional YAML file and the HUB_*
// environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
	v.SetDefault("worker_id", 0)
	v.SetDefault("database.instance_port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("dns.resolver", "")
	v.SetDefault("proxy.server", "srv0")
	v.SetDefault("object_store.bucket_prefix", "xcord")
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("reconciler.enabled", false)
	v.SetDefault("reconciler.schedule", "@every 5m")
	v.SetDefault("reconciler.self_heal", false)
	v.SetDefault("api.listen_addr", ":9090")
	v.SetDefault("auth.bcrypt_work_factor", 12)
}

// LoadKEK reads the key-encryption key from the configured file. The file
// may hold 32 raw bytes, or base64/hex text decoding to 32 bytes.
func LoadKEK(fs afero.Fs, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("KEK file path is empty")
	}

	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read KEK file %s: %w", path, err)
	}

	if len(raw) == 32 {
		return raw, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 32 {
		return trimmed, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(string(trimmed)); err == nil && len(decoded) == 32 {
		return decoded, nil
	}

	return nil, fmt.Errorf("KEK file %s must contain 32 bytes (raw, base64, or hex), got %d bytes", path, len(raw))
}
