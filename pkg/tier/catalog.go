package tier

import (
	_ "embed"
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/xcord/hub/pkg/types"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Flags are the feature gates rendered into an instance's config.
type Flags struct {
	ChatEnabled  bool `yaml:"chatEnabled" json:"chatEnabled"`
	AudioEnabled bool `yaml:"audioEnabled" json:"audioEnabled"`
	VideoEnabled bool `yaml:"videoEnabled" json:"videoEnabled"`
	HDVideo      bool `yaml:"hdVideo" json:"hdVideo"`
}

// Limits are the numeric resource bounds for one instance.
type Limits struct {
	MaxMemoryMB        int `yaml:"maxMemoryMB" json:"maxMemoryMB"`
	MaxCPUPercent      int `yaml:"maxCPUPercent" json:"maxCPUPercent"`
	MaxUsers           int `yaml:"-" json:"maxUsers"`
	RateLimitPerMinute int `yaml:"rateLimitPerMinute" json:"rateLimitPerMinute"`
	MaxUploadMB        int `yaml:"maxUploadMB" json:"maxUploadMB"`
}

type featureTierSpec struct {
	MaxInstancesPerOwner int   `yaml:"maxInstancesPerOwner"`
	Flags                Flags `yaml:"flags"`
}

type catalogFile struct {
	FeatureTiers   map[string]featureTierSpec `yaml:"featureTiers"`
	UserCountTiers map[int]Limits             `yaml:"userCountTiers"`
}

// Catalog resolves a (feature tier, user count tier, hd) triple into
// limits and flags. Immutable after load.
type Catalog struct {
	featureTiers   map[types.FeatureTier]featureTierSpec
	userCountTiers map[int]Limits
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalogYAML)
}

// LoadFile reads a catalog override from disk.
func LoadFile(fs afero.Fs, path string) (*Catalog, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier catalog %s: %w", path, err)
	}
	return parse(raw)
}

// Load returns the catalog from path if set, otherwise the default.
func Load(fs afero.Fs, path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(fs, path)
}

func parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tier catalog: %w", err)
	}
	if len(file.FeatureTiers) == 0 {
		return nil, fmt.Errorf("tier catalog defines no feature tiers")
	}
	if len(file.UserCountTiers) == 0 {
		return nil, fmt.Errorf("tier catalog defines no user count tiers")
	}

	c := &Catalog{
		featureTiers:   make(map[types.FeatureTier]featureTierSpec, len(file.FeatureTiers)),
		userCountTiers: file.UserCountTiers,
	}
	for name, spec := range file.FeatureTiers {
		c.featureTiers[types.FeatureTier(name)] = spec
	}
	return c, nil
}

// Resolve returns the limits and flags for a tier triple.
func (c *Catalog) Resolve(feature types.FeatureTier, userCount int, hdUpgrade bool) (Limits, Flags, error) {
	ft, ok := c.featureTiers[feature]
	if !ok {
		return Limits{}, Flags{}, fmt.Errorf("unknown feature tier %q", feature)
	}
	limits, ok := c.userCountTiers[userCount]
	if !ok {
		return Limits{}, Flags{}, fmt.Errorf("unknown user count tier %d", userCount)
	}

	limits.MaxUsers = userCount
	flags := ft.Flags
	// HD is only meaningful on tiers that can stream video.
	flags.HDVideo = hdUpgrade && flags.VideoEnabled
	return limits, flags, nil
}

// MaxInstances returns the per-owner live instance cap for a feature
// tier. -1 means unlimited.
func (c *Catalog) MaxInstances(feature types.FeatureTier) (int, error) {
	ft, ok := c.featureTiers[feature]
	if !ok {
		return 0, fmt.Errorf("unknown feature tier %q", feature)
	}
	return ft.MaxInstancesPerOwner, nil
}

// MemoryBytes converts a limit to the engine's byte unit.
func (l Limits) MemoryBytes() int64 {
	return int64(l.MaxMemoryMB) << 20
}

// CPUQuota converts MaxCPUPercent to an engine CPU quota against the
// default 100ms period (100% = one full core = 100000).
func (l Limits) CPUQuota() int64 {
	return int64(l.MaxCPUPercent) * 1000
}
