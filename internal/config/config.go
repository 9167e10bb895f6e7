// Package config loads the declarative Cordelia node configuration
// (identity, network, governor, replication and relay sections) from a
// YAML file via Viper, mirroring the loader shape used for the rest of
// the node's configuration surface: a typed Config struct with
// mapstructure tags, defaults set before read, and env-var overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Role is the node's participation mode.
type Role string

const (
	RolePersonal Role = "personal"
	RoleRelay    Role = "relay"
	RoleKeeper   Role = "keeper"
)

// RelayPosture governs gate 2 acceptance for relay-role nodes.
type RelayPosture string

const (
	PostureTransparent RelayPosture = "transparent"
	PostureDynamic     RelayPosture = "dynamic"
	PostureExplicit    RelayPosture = "explicit"
)

// Identity holds the node's own identity and storage location.
type Identity struct {
	EntityID      string   `mapstructure:"entity_id"`
	KeyFile       string   `mapstructure:"key_file"`
	DatabasePath  string   `mapstructure:"database_path"`
	Role          Role     `mapstructure:"role"`
	InitialGroups []string `mapstructure:"initial_groups"`
}

// Network holds listen/bootstrap addressing.
type Network struct {
	ListenAddr      string   `mapstructure:"listen_addr"`
	ExternalAddr    string   `mapstructure:"external_addr"`
	SeedBootnodes   []string `mapstructure:"seed_bootnodes"`
	TrustedRelays   []string `mapstructure:"trusted_relays"`
}

// Governor holds peer lifecycle tuning.
type Governor struct {
	HotMin             int     `mapstructure:"hot_min"`
	HotMax             int     `mapstructure:"hot_max"`
	WarmMin            int     `mapstructure:"warm_min"`
	WarmMax            int     `mapstructure:"warm_max"`
	ColdMax            int     `mapstructure:"cold_max"`
	ChurnIntervalSecs  int     `mapstructure:"churn_interval_secs"`
	ChurnFraction      float64 `mapstructure:"churn_fraction"`
}

// Replication holds engine tuning.
type Replication struct {
	SyncIntervalTaciturnSecs int `mapstructure:"sync_interval_taciturn_secs"`
	TombstoneRetentionDays   int `mapstructure:"tombstone_retention_days"`
	MaxBatchSize             int `mapstructure:"max_batch_size"`
	// SyncIntervalModerateSecs is accepted for compatibility but never
	// consulted at runtime — "moderate" culture maps to "chatty".
	SyncIntervalModerateSecs int `mapstructure:"sync_interval_moderate_secs"`
}

// Relay holds relay-role acceptance policy.
type Relay struct {
	Posture       RelayPosture `mapstructure:"posture"`
	AllowedGroups []string     `mapstructure:"allowed_groups"`
	BlockedGroups []string     `mapstructure:"blocked_groups"`
}

// Config is the unified Cordelia node configuration.
type Config struct {
	Identity    Identity    `mapstructure:"identity"`
	Network     Network     `mapstructure:"network"`
	Governor    Governor    `mapstructure:"governor"`
	Replication Replication `mapstructure:"replication"`
	Relay       Relay       `mapstructure:"relay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("identity.role", string(RolePersonal))
	v.SetDefault("identity.database_path", "./cordelia-data")

	v.SetDefault("governor.hot_min", 4)
	v.SetDefault("governor.hot_max", 16)
	v.SetDefault("governor.warm_min", 8)
	v.SetDefault("governor.warm_max", 64)
	v.SetDefault("governor.cold_max", 256)
	v.SetDefault("governor.churn_interval_secs", 300)
	v.SetDefault("governor.churn_fraction", 0.25)

	v.SetDefault("replication.sync_interval_taciturn_secs", 900)
	v.SetDefault("replication.tombstone_retention_days", 7)
	v.SetDefault("replication.max_batch_size", 100)

	v.SetDefault("relay.posture", string(PostureTransparent))
}

// Load reads the YAML file at path (empty means "look for cordelia.yaml
// in the working directory and /etc/cordelia"), merges CORDELIA_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cordelia")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cordelia")
	}

	v.SetEnvPrefix("CORDELIA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the mutual-exclusion and range rules from the config
// error taxonomy (fatal at startup).
func (c *Config) Validate() error {
	switch c.Identity.Role {
	case RolePersonal, RoleRelay, RoleKeeper:
	default:
		return fmt.Errorf("invalid identity.role %q", c.Identity.Role)
	}
	if c.Identity.Role == RoleKeeper && len(c.Network.TrustedRelays) == 0 {
		return fmt.Errorf("keeper role requires network.trusted_relays")
	}
	if c.Governor.HotMin > c.Governor.HotMax {
		return fmt.Errorf("governor.hot_min > governor.hot_max")
	}
	if c.Governor.WarmMin > c.Governor.WarmMax {
		return fmt.Errorf("governor.warm_min > governor.warm_max")
	}
	if c.Governor.ChurnFraction < 0 || c.Governor.ChurnFraction > 1 {
		return fmt.Errorf("governor.churn_fraction must be in [0,1]")
	}
	if c.Identity.Role == RoleRelay {
		switch c.Relay.Posture {
		case PostureTransparent, PostureDynamic, PostureExplicit:
		default:
			return fmt.Errorf("invalid relay.posture %q", c.Relay.Posture)
		}
		if c.Relay.Posture == PostureExplicit && len(c.Relay.AllowedGroups) == 0 {
			return fmt.Errorf("relay.posture=explicit requires relay.allowed_groups")
		}
	}
	return nil
}

// ChurnInterval returns the governor churn interval as a duration.
func (g Governor) ChurnInterval() time.Duration {
	return time.Duration(g.ChurnIntervalSecs) * time.Second
}

// SyncIntervalTaciturn returns the taciturn sync interval as a duration.
func (r Replication) SyncIntervalTaciturn() time.Duration {
	return time.Duration(r.SyncIntervalTaciturnSecs) * time.Second
}

// TombstoneRetention returns the tombstone retention window as a duration.
func (r Replication) TombstoneRetention() time.Duration {
	return time.Duration(r.TombstoneRetentionDays) * 24 * time.Hour
}
