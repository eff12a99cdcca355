package ratelimit

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config sets the quota for one service window.
type Config struct {
	Service       string `yaml:"service" json:"service"`
	MaxActions    int    `yaml:"max_actions" json:"max_actions"`
	WindowMinutes int    `yaml:"window_minutes" json:"window_minutes"`
}

// Built-in per-service quotas. Messaging and email are kept tight because
// they reach people directly; payment services tighter still. Services
// without an entry fall back to genericLimit.
var builtinLimits = map[string]Config{
	"slack":    {Service: "slack", MaxActions: 30, WindowMinutes: 15},
	"discord":  {Service: "discord", MaxActions: 30, WindowMinutes: 15},
	"telegram": {Service: "telegram", MaxActions: 30, WindowMinutes: 15},
	"email":    {Service: "email", MaxActions: 10, WindowMinutes: 15},
	"gmail":    {Service: "gmail", MaxActions: 10, WindowMinutes: 15},
	"github":   {Service: "github", MaxActions: 60, WindowMinutes: 15},
	"gitlab":   {Service: "gitlab", MaxActions: 60, WindowMinutes: 15},
	"stripe":   {Service: "stripe", MaxActions: 5, WindowMinutes: 15},
	"paypal":   {Service: "paypal", MaxActions: 5, WindowMinutes: 15},
}

var genericLimit = Config{MaxActions: 20, WindowMinutes: 15}

// Lookup resolves the quota for a service. An operator override wins,
// then the built-in table, then the generic fallback. The returned
// config always names the requested service.
func Lookup(service string, overrides []Config) Config {
	name := normalizeService(service)
	for _, o := range overrides {
		if normalizeService(o.Service) == name {
			o.Service = name
			return o
		}
	}
	if cfg, ok := builtinLimits[name]; ok {
		return cfg
	}
	cfg := genericLimit
	cfg.Service = name
	return cfg
}

type overridesFile struct {
	Limits []Config `yaml:"limits"`
}

// LoadOverrides reads per-service quota overrides from a YAML file.
func LoadOverrides(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadOverrides: %w", err)
	}
	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("LoadOverrides: parse %s: %w", path, err)
	}
	for _, c := range f.Limits {
		if strings.TrimSpace(c.Service) == "" {
			return nil, fmt.Errorf("LoadOverrides: %s: limit entry without a service", path)
		}
		if c.MaxActions <= 0 || c.WindowMinutes <= 0 {
			return nil, fmt.Errorf("LoadOverrides: %s: service %q needs positive max_actions and window_minutes", path, c.Service)
		}
	}
	return f.Limits, nil
}

func normalizeService(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}
