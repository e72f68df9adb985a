// Package config loads and validates the controller's JSON configuration
// file, using koanf with its file provider and JSON parser, decoded into
// a typed Config via go-viper/mapstructure.
package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/TritonDataCenter/muppet-sub000/internal/helpers"
)

// ZooKeeper holds the ZK connection settings.
type ZooKeeper struct {
	Servers []string      `koanf:"servers" mapstructure:"servers"`
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

// HAProxy holds HAProxy-specific config template knobs.
type HAProxy struct {
	NbThread int `koanf:"nbthread" mapstructure:"nbthread"`
}

// Config is the top-level configuration consumed via -f/--file.
type Config struct {
	Domain        string    `koanf:"domain" mapstructure:"domain"`
	TrustedIP     string    `koanf:"trustedIP" mapstructure:"trustedIP"`
	UntrustedIPs  []string  `koanf:"untrustedIPs" mapstructure:"untrustedIPs"`
	AdminIPs      []string  `koanf:"adminIPS" mapstructure:"adminIPS"`
	MantaIPs      []string  `koanf:"mantaIPS" mapstructure:"mantaIPS"`
	ZooKeeper     ZooKeeper `koanf:"zookeeper" mapstructure:"zookeeper"`
	HAProxy       HAProxy   `koanf:"haproxy" mapstructure:"haproxy"`
	MetricsPort   int       `koanf:"metricsPort" mapstructure:"metricsPort"`
	LogLevel      string    `koanf:"logLevel" mapstructure:"logLevel"`
}

// Load reads and parses the JSON config file at path, then validates it.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       decodeHook,
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config's structural invariants.
func (c Config) Validate() error {
	if err := helpers.IsValidDomain(c.Domain); err != nil {
		return fmt.Errorf("domain: %w", err)
	}
	if err := helpers.ValidateIPLiteral("trustedIP", c.TrustedIP); err != nil {
		return err
	}
	for i, ip := range c.UntrustedIPs {
		if err := helpers.ValidateIPLiteral(fmt.Sprintf("untrustedIPs[%d]", i), ip); err != nil {
			return err
		}
	}
	for i, ip := range c.AdminIPs {
		if err := helpers.ValidateIPLiteral(fmt.Sprintf("adminIPS[%d]", i), ip); err != nil {
			return err
		}
	}
	for i, ip := range c.MantaIPs {
		if err := helpers.ValidateIPLiteral(fmt.Sprintf("mantaIPS[%d]", i), ip); err != nil {
			return err
		}
	}
	if len(c.ZooKeeper.Servers) == 0 {
		return fmt.Errorf("zookeeper.servers: must not be empty")
	}
	if len(c.AdminIPs) == 0 {
		return fmt.Errorf("adminIPS: must not be empty (metrics endpoint binds to the first)")
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metricsPort: %d is not a valid port", c.MetricsPort)
	}
	return nil
}
