// Package config provides a reusable loader for i2pcore router configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/go-i2p/i2pcore/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a router instance. It
// mirrors the structure of the YAML files Load looks up (default.yaml and
// an optional <env>.yaml, in ./config or the working directory); none ships
// with this repository.
type Config struct {
	Router struct {
		NetID           int    `mapstructure:"net_id" json:"net_id"`
		KeysFile        string `mapstructure:"keys_file" json:"keys_file"`
		InfoFile        string `mapstructure:"info_file" json:"info_file"`
		BandwidthTier   string `mapstructure:"bandwidth_tier" json:"bandwidth_tier"`
		Floodfill       bool   `mapstructure:"floodfill" json:"floodfill"`
		SignatureType   string `mapstructure:"signature_type" json:"signature_type"`
		AcceptsTunnels  bool   `mapstructure:"accepts_tunnels" json:"accepts_tunnels"`
		MaxTransitHops  int    `mapstructure:"max_transit_tunnels" json:"max_transit_tunnels"`
		BootstrapRIFile string `mapstructure:"bootstrap_routerinfo_file" json:"bootstrap_routerinfo_file"`
	} `mapstructure:"router" json:"router"`

	NetDB struct {
		Dir                 string        `mapstructure:"dir" json:"dir"`
		RepublishInterval   time.Duration `mapstructure:"republish_interval" json:"republish_interval"`
		ExploreInterval     time.Duration `mapstructure:"explore_interval" json:"explore_interval"`
		ManageRequestsEvery time.Duration `mapstructure:"manage_requests_every" json:"manage_requests_every"`
		SaveEvery           time.Duration `mapstructure:"save_every" json:"save_every"`
	} `mapstructure:"netdb" json:"netdb"`

	Tunnels struct {
		BuildTimeout     time.Duration `mapstructure:"build_timeout" json:"build_timeout"`
		TunnelLifetime   time.Duration `mapstructure:"tunnel_lifetime" json:"tunnel_lifetime"`
		ExploratoryHops  int           `mapstructure:"exploratory_hops" json:"exploratory_hops"`
		ExploratoryCount int           `mapstructure:"exploratory_count" json:"exploratory_count"`
	} `mapstructure:"tunnels" json:"tunnels"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("I2PCORE")

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the I2PCORE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("I2PCORE_ENV", ""))
}

func setDefaults() {
	viper.SetDefault("router.net_id", 2)
	viper.SetDefault("router.keys_file", "router.keys")
	viper.SetDefault("router.info_file", "router.info")
	viper.SetDefault("router.bandwidth_tier", "O")
	viper.SetDefault("router.floodfill", false)
	viper.SetDefault("router.signature_type", "EdDSA-SHA512-Ed25519")
	viper.SetDefault("router.accepts_tunnels", true)
	viper.SetDefault("router.max_transit_tunnels", 2500)

	viper.SetDefault("netdb.dir", "netDb")
	viper.SetDefault("netdb.republish_interval", 40*time.Minute)
	viper.SetDefault("netdb.explore_interval", 30*time.Second)
	viper.SetDefault("netdb.manage_requests_every", 15*time.Second)
	viper.SetDefault("netdb.save_every", 60*time.Second)

	viper.SetDefault("tunnels.build_timeout", 30*time.Second)
	viper.SetDefault("tunnels.tunnel_lifetime", 10*time.Minute)
	viper.SetDefault("tunnels.exploratory_hops", 2)
	viper.SetDefault("tunnels.exploratory_count", 5)

	viper.SetDefault("logging.level", "info")
}
