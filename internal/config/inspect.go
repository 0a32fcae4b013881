package config

import "github.com/spf13/pflag"

// InspectConfig holds configuration for the inspect command.
type InspectConfig struct {
	StoreConfig
	LogLevel string
}

// LoadInspect merges config file, environment variables, and flags into InspectConfig.
func LoadInspect(cfgFile string, flags *pflag.FlagSet) (InspectConfig, error) {
	v := newViper()
	setStoreDefaults(v)
	v.SetDefault("log-level", "warn")

	if err := read(v, cfgFile, flags); err != nil {
		return InspectConfig{}, err
	}

	cfg := InspectConfig{
		StoreConfig: storeConfig(v),
		LogLevel:    v.GetString("log-level"),
	}
	if err := cfg.StoreConfig.validate(); err != nil {
		return InspectConfig{}, err
	}
	return cfg, nil
}
