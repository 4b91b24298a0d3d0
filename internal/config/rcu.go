package config

import (
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// snapshot is the process-wide read-copy-update cell. Readers call Load and
// get an immutable *Config that remains valid for as long as they hold it,
// even across concurrent Store calls by other goroutines (spec.md §5 "the
// global config is an atomic reference-counted snapshot").
var snapshot atomic.Pointer[Config]

func init() {
	snapshot.Store(Defaults())
}

// Load returns the current configuration snapshot. The returned pointer is
// never mutated in place; callers that need to change it must clone,
// mutate, and publish via Store or RCU.
func Load() *Config {
	if c := snapshot.Load(); c != nil {
		return c
	}
	return Defaults()
}

// Store atomically publishes a new configuration snapshot.
func Store(cfg *Config) {
	if cfg == nil {
		return
	}
	snapshot.Store(cfg)
}

// RCU clones the current snapshot, applies mutate to the clone, and
// publishes the result atomically. mutate must not retain the pointer it is
// given beyond the call.
func RCU(mutate func(cfg *Config)) *Config {
	cur := Load()
	next := cur.clone()
	mutate(next)
	Store(next)
	return next
}

// clone performs a deep-enough copy for every field RCU mutators touch.
func (c *Config) clone() *Config {
	if c == nil {
		return Defaults()
	}
	cp := *c
	if c.BetaDenialPhrases != nil {
		cp.BetaDenialPhrases = append([]string(nil), c.BetaDenialPhrases...)
	}
	if c.Storage.ObjectMirror != nil {
		m := *c.Storage.ObjectMirror
		cp.Storage.ObjectMirror = &m
	}
	if c.Storage.GitHistory != nil {
		g := *c.Storage.GitHistory
		cp.Storage.GitHistory = &g
	}
	return &cp
}

// LoadFromFile reads a YAML document from path, merges it over the suggested
// defaults, and publishes it as the new snapshot.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	Store(cfg)
	return cfg, nil
}

// Save serializes the current snapshot back to path as YAML.
func Save(path string) error {
	cfg := Load()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
