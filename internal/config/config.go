// Package config loads LockWatch configuration with viper and exposes it to
// plugins through the plugin.Config interface.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/lockwatch/pkg/plugin"
	"github.com/spf13/viper"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig adapts a *viper.Viper to plugin.Config. A nil viper behaves as
// an empty configuration.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v. Passing nil yields an empty config.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) GetFloat64(key string) float64        { return c.v.GetFloat64(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *ViperConfig) GetStringSlice(key string) []string   { return c.v.GetStringSlice(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }
func (c *ViperConfig) Unmarshal(target any) error           { return c.v.Unmarshal(target) }
func (c *ViperConfig) UnmarshalKey(key string, target any) error {
	return c.v.UnmarshalKey(key, target)
}

// Sub returns the config subtree at key. A missing key yields an empty
// config rather than nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	return New(c.v.Sub(key))
}

// Load reads configuration from path, or from lockwatch.yaml in the working
// directory or /etc/lockwatch when path is empty. A missing default file is
// not an error. Environment variables prefixed LOCKWATCH_ override file
// values (plugins.recon.enabled -> LOCKWATCH_PLUGINS_RECON_ENABLED).
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("LOCKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lockwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lockwatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "lockwatch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("plugins.recon.enabled", true)
	v.SetDefault("plugins.recon.facility_id", "default")
	v.SetDefault("plugins.recon.max_targets", 20)
	v.SetDefault("plugins.recon.probe_timeout", "5s")
	v.SetDefault("plugins.recon.demo.count", 2)
	v.SetDefault("plugins.recon.scan_rate", 0.2) // scans per second
	v.SetDefault("plugins.recon.scan_burst", 2)
	v.SetDefault("plugins.recon.enrich.reverse_dns", true)
	v.SetDefault("plugins.recon.enrich.arp", true)
	v.SetDefault("plugins.recon.snmp.community", "")

	v.SetDefault("plugins.pulse.enabled", true)
	v.SetDefault("plugins.pulse.autostart", true)
	v.SetDefault("plugins.pulse.interval", "5s")
	v.SetDefault("plugins.pulse.latency.endpoints", []string{
		"https://www.google.com",
		"https://www.cloudflare.com",
		"https://1.1.1.1",
	})
	v.SetDefault("plugins.pulse.latency.timeout", "2s")
	v.SetDefault("plugins.pulse.packet_loss.method", "http")
	v.SetDefault("plugins.pulse.packet_loss.count", 10)
	v.SetDefault("plugins.pulse.packet_loss.target", "1.1.1.1")
	v.SetDefault("plugins.pulse.bandwidth.wifi", true)
	v.SetDefault("plugins.pulse.bandwidth.download_url", "")
	v.SetDefault("plugins.pulse.thresholds.latency_medium_ms", 500)
	v.SetDefault("plugins.pulse.thresholds.latency_high_ms", 1000)
	v.SetDefault("plugins.pulse.thresholds.packet_loss_medium", 5)
	v.SetDefault("plugins.pulse.thresholds.packet_loss_high", 10)
	v.SetDefault("plugins.pulse.thresholds.download_medium_mbps", 10)
	v.SetDefault("plugins.pulse.alerts.suppress_unresolved", false)
	v.SetDefault("plugins.pulse.mqtt.broker", "")
	v.SetDefault("plugins.pulse.mqtt.topic_prefix", "lockwatch/alerts")

	v.SetDefault("plugins.media.enabled", true)
	v.SetDefault("plugins.media.server_url", "http://127.0.0.1:8889")
	v.SetDefault("plugins.media.timeout", "10s")
	v.SetDefault("plugins.media.ptz_timeout", "3s")
	v.SetDefault("plugins.media.default_quality", "medium")

	v.SetDefault("plugins.vault.enabled", true)
	v.SetDefault("plugins.vault.passphrase", "")
}
