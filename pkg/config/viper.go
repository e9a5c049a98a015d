package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables.
// configPath is the directory containing config files.
// configName is the name of the config file (without extension).
// envPrefix, when set, scopes environment overrides (e.g. DIFFEX_CACHE_TTL)
// and {envPrefix}_CONFIG_FILE names an explicit file that must exist.
func Load(configPath, configName, envPrefix string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
		if file := os.Getenv(envPrefix + "_CONFIG_FILE"); file != "" {
			v.SetConfigFile(file)
		}
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil // Config file not found, rely on defaults and env vars
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}
