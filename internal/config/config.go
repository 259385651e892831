// Package config loads service configuration from an optional config file
// and RADREPORT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr               string
	DBPath             string
	AnthropicAPIKey    string
	Model              string
	AdminToken         string
	RequestsPerMinute  int
	CacheTTL           time.Duration
	FallbackImpression string
	ChromePath         string
}

// Load reads configuration with this precedence: config file (when given),
// RADREPORT_* environment variables, defaults. The Anthropic key also falls
// back to the conventional ANTHROPIC_API_KEY variable.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RADREPORT")
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "radreport.db")
	v.SetDefault("model", "")
	v.SetDefault("requests_per_minute", 30)
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("fallback_impression", "")
	v.SetDefault("chrome_path", "")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Addr:               v.GetString("addr"),
		DBPath:             v.GetString("db_path"),
		AnthropicAPIKey:    v.GetString("anthropic_api_key"),
		Model:              v.GetString("model"),
		AdminToken:         v.GetString("admin_token"),
		RequestsPerMinute:  v.GetInt("requests_per_minute"),
		CacheTTL:           v.GetDuration("cache_ttl"),
		FallbackImpression: v.GetString("fallback_impression"),
		ChromePath:         v.GetString("chrome_path"),
	}

	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return cfg, nil
}
