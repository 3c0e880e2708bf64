package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is an optional YAML file that pins the watch settings for a
// deployment. Zero values leave the env-derived setting untouched.
//
//	category: blitz
//	target: 12
//	replace_cooldown: 3s
//	keepalive: 5s
type Profile struct {
	Category        string        `yaml:"category"`
	Target          int           `yaml:"target"`
	ListSize        int           `yaml:"list_size"`
	ReplaceCooldown time.Duration `yaml:"replace_cooldown"`
	Keepalive       time.Duration `yaml:"keepalive"`
}

func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read watch profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse watch profile: %w", err)
	}
	if p.Target < 0 || p.ListSize < 0 {
		return Profile{}, fmt.Errorf("parse watch profile: negative target or list_size")
	}

	return p, nil
}

// Apply overlays the non-zero profile fields onto cfg.
func (p Profile) Apply(cfg *Config) {
	if p.Category != "" {
		cfg.Category = p.Category
	}
	if p.Target > 0 {
		cfg.WatchTarget = p.Target
	}
	if p.ListSize > 0 {
		cfg.ListSize = p.ListSize
	}
	if p.ReplaceCooldown > 0 {
		cfg.ReplaceCooldown = p.ReplaceCooldown
	}
	if p.Keepalive > 0 {
		cfg.Keepalive = p.Keepalive
	}
}
