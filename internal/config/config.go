package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ZoneConfig is one speed-enforcement exemption rectangle in world
// coordinates, read-only after load.
type ZoneConfig struct {
	Name string  `json:"name" mapstructure:"name"`
	MinX float64 `json:"minX" mapstructure:"minX"`
	MaxX float64 `json:"maxX" mapstructure:"maxX"`
	MinY float64 `json:"minY" mapstructure:"minY"`
	MaxY float64 `json:"maxY" mapstructure:"maxY"`
}

// Load reads configuration from roadwatch.cfg.json and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./roadwatchlogs")

	viper.SetDefault("game.serverUrl", "http://localhost:5001")
	viper.SetDefault("game.password", "")

	viper.SetDefault("server.listenAddr", "127.0.0.1:8000")

	viper.SetDefault("poll.playersInterval", "250ms")
	viper.SetDefault("poll.garagesInterval", "20s")
	viper.SetDefault("poll.vehiclesInterval", "30s")
	viper.SetDefault("poll.vehiclesEnabled", false)

	viper.SetDefault("enforce.enabled", true)
	viper.SetDefault("enforce.policeFine", -5000)

	viper.SetDefault("policy.rolesFile", "./config/roles.json")
	viper.SetDefault("policy.reloadInterval", "30s")

	viper.SetDefault("announce.file", "./config/announcements.json")

	viper.SetDefault("reconcile.interval", "10s")
	viper.SetDefault("reconcile.mapAssetsFile", "./config/map_assets.json")
	viper.SetDefault("reconcile.dealerVehiclesFile", "./config/dealer_vehicles.json")

	viper.SetDefault("db.path", "./roadwatch_state.db")

	viper.SetDefault("events.enabled", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "roadwatch-metrics")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("shutdownAfter", "")

	viper.SetConfigName("roadwatch.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value. Zero is returned for empty
// or unparseable values.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// Zones returns the configured speed-exemption rectangles.
func Zones() ([]ZoneConfig, error) {
	var zones []ZoneConfig
	if err := viper.UnmarshalKey("enforce.zones", &zones); err != nil {
		return nil, fmt.Errorf("error parsing enforce.zones: %w", err)
	}
	return zones, nil
}
