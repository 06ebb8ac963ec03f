// Package config holds the static toggles of the auto-versioning engine.
//
// Settings are resolved once at startup and passed around by value; nothing
// mutates them afterwards.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. AUTOVERSION_CUSTOM_DIFF_MODE.
const EnvPrefix = "AUTOVERSION"

// Settings is the flat configuration surface.
type Settings struct {
	EnableAutoVersioning          bool     `json:"enable_auto_versioning" yaml:"enable_auto_versioning" mapstructure:"enable_auto_versioning"`
	CustomDiffMode                bool     `json:"custom_diff_mode" yaml:"custom_diff_mode" mapstructure:"custom_diff_mode"`
	AutoVersionAssociations       bool     `json:"auto_version_associations" yaml:"auto_version_associations" mapstructure:"auto_version_associations"`
	AutoVersionChildAssociations  bool     `json:"auto_version_child_associations" yaml:"auto_version_child_associations" mapstructure:"auto_version_child_associations"`
	AssociationDelaySeconds       int64    `json:"association_delay_seconds" yaml:"association_delay_seconds" mapstructure:"association_delay_seconds"`
	ExcludedUpdateProperties      []string `json:"excluded_update_properties" yaml:"excluded_update_properties" mapstructure:"excluded_update_properties"`
	ExcludedAssociationTypes      []string `json:"excluded_association_types" yaml:"excluded_association_types" mapstructure:"excluded_association_types"`
	ExcludedChildAssociationTypes []string `json:"excluded_child_association_types" yaml:"excluded_child_association_types" mapstructure:"excluded_child_association_types"`
}

// Defaults returns the baseline settings: auto-versioning on, legacy diff
// mode, association versioning off.
func Defaults() Settings {
	return Settings{
		EnableAutoVersioning:          true,
		AssociationDelaySeconds:       30,
		ExcludedUpdateProperties:      []string{},
		ExcludedAssociationTypes:      []string{},
		ExcludedChildAssociationTypes: []string{},
	}
}

// Validate rejects settings the engine cannot run with.
func (s Settings) Validate() error {
	if s.AssociationDelaySeconds < 0 {
		return fmt.Errorf("association_delay_seconds must not be negative, got %d", s.AssociationDelaySeconds)
	}
	return nil
}

var defaultConfigPaths = []string{
	".",
	"./config",
}

// Load reads settings from the YAML file at path, or, when path is empty,
// from an optional autoversion.yaml in the default locations. Environment
// variables override file values; list values are comma separated.
func Load(path string) (Settings, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("enable_auto_versioning", d.EnableAutoVersioning)
	v.SetDefault("custom_diff_mode", d.CustomDiffMode)
	v.SetDefault("auto_version_associations", d.AutoVersionAssociations)
	v.SetDefault("auto_version_child_associations", d.AutoVersionChildAssociations)
	v.SetDefault("association_delay_seconds", d.AssociationDelaySeconds)
	v.SetDefault("excluded_update_properties", d.ExcludedUpdateProperties)
	v.SetDefault("excluded_association_types", d.ExcludedAssociationTypes)
	v.SetDefault("excluded_child_association_types", d.ExcludedChildAssociationTypes)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("autoversion")
		v.SetConfigType("yaml")
		for _, p := range defaultConfigPaths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
