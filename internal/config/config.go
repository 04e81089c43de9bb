// Package config builds the single immutable configuration record the
// upload engine threads by reference into every component: no hidden
// globals, per spec.md §9 "Global configuration".
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Limits holds every tunable quota and bound referenced by spec.md.
// It is built once at process start and never mutated afterward.
type Limits struct {
	// MaxTagsPerElement bounds the tag count on any single node/way/relation (§3.2).
	MaxTagsPerElement int `mapstructure:"max_tags_per_element"`
	// MaxWayNodes bounds |nodes| on a way create/modify (§3.4).
	MaxWayNodes int `mapstructure:"max_way_nodes"`
	// MaxRelationMembers bounds |members| on a relation create/modify (§3.5).
	MaxRelationMembers int `mapstructure:"max_relation_members"`
	// MaxChangesetElements bounds num_changes + new_changes on a changeset (§3.7).
	MaxChangesetElements int `mapstructure:"max_changeset_elements"`
	// MaxBBoxLinearSize bounds (maxlon-minlon)+(maxlat-minlat) in micro-degrees (§4.4.5).
	MaxBBoxLinearSize int64 `mapstructure:"max_bbox_linear_size"`
	// ChangesetIdleWindow: a changeset created within this long ago is eligible
	// to have its closed_at extended on update (§4.3).
	ChangesetIdleWindow time.Duration `mapstructure:"changeset_idle_window"`
	// ChangesetMaxOpenDuration is the maximum closed_at - created_at (§4.3), default 24h.
	ChangesetMaxOpenDuration time.Duration `mapstructure:"changeset_max_open_duration"`
	// TagValueMaxCodepoints bounds a tag key/value and a member role (§3.2, §3.5).
	TagValueMaxCodepoints int `mapstructure:"tag_value_max_codepoints"`
	// CoordScale converts floating lat/lon degrees to stored integer micro-degrees (§4.4.5).
	CoordScale int64 `mapstructure:"coord_scale"`
	// ChangesetLockTimeout bounds how long an upload waits for the changeset's
	// GET_LOCK advisory lock (storage's beginUpload) before surfacing Conflict (§4.3, §5).
	ChangesetLockTimeout time.Duration `mapstructure:"changeset_lock_timeout"`
}

// Defaults mirrors the values the reference osmChange engine ships with.
func Defaults() Limits {
	return Limits{
		MaxTagsPerElement:        50,
		MaxWayNodes:              2000,
		MaxRelationMembers:       32000,
		MaxChangesetElements:     50000,
		MaxBBoxLinearSize:        4_000_000_000, // ~400 degrees in 1e7 micro-degree units
		ChangesetIdleWindow:      time.Hour,
		ChangesetMaxOpenDuration: 24 * time.Hour,
		TagValueMaxCodepoints:    255,
		CoordScale:               10_000_000,
		ChangesetLockTimeout:     15 * time.Second,
	}
}

// Load reads Limits from a YAML config file (if present) with environment
// variable overrides, mirroring beads' config.yaml + env-overlay split
// (internal/config/yaml_config.go, cmd/bd/config.go). configPath may be
// empty, in which case only defaults and environment variables apply.
func Load(configPath string) (Limits, error) {
	limits := Defaults()

	v := viper.New()
	v.SetEnvPrefix("OSMUPLOAD")
	v.AutomaticEnv()

	setDefaults(v, limits)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Limits{}, fmt.Errorf("loading config %s: %w", configPath, err)
			}
		}
	}

	var out Limits
	if err := v.Unmarshal(&out); err != nil {
		return Limits{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Limits{}, err
	}
	return out, nil
}

func setDefaults(v *viper.Viper, l Limits) {
	v.SetDefault("max_tags_per_element", l.MaxTagsPerElement)
	v.SetDefault("max_way_nodes", l.MaxWayNodes)
	v.SetDefault("max_relation_members", l.MaxRelationMembers)
	v.SetDefault("max_changeset_elements", l.MaxChangesetElements)
	v.SetDefault("max_bbox_linear_size", l.MaxBBoxLinearSize)
	v.SetDefault("changeset_idle_window", l.ChangesetIdleWindow)
	v.SetDefault("changeset_max_open_duration", l.ChangesetMaxOpenDuration)
	v.SetDefault("tag_value_max_codepoints", l.TagValueMaxCodepoints)
	v.SetDefault("coord_scale", l.CoordScale)
	v.SetDefault("changeset_lock_timeout", l.ChangesetLockTimeout)
}

// Validate rejects an obviously broken configuration before it reaches any component.
func (l Limits) Validate() error {
	switch {
	case l.MaxTagsPerElement <= 0:
		return fmt.Errorf("max_tags_per_element must be positive")
	case l.MaxWayNodes <= 0:
		return fmt.Errorf("max_way_nodes must be positive")
	case l.MaxRelationMembers <= 0:
		return fmt.Errorf("max_relation_members must be positive")
	case l.MaxChangesetElements <= 0:
		return fmt.Errorf("max_changeset_elements must be positive")
	case l.MaxBBoxLinearSize <= 0:
		return fmt.Errorf("max_bbox_linear_size must be positive")
	case l.CoordScale <= 0:
		return fmt.Errorf("coord_scale must be positive")
	case l.TagValueMaxCodepoints <= 0:
		return fmt.Errorf("tag_value_max_codepoints must be positive")
	}
	return nil
}
