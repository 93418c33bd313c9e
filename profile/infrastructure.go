package profile

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yllada/passage/common"
)

// Infrastructure describes the servers and connection presets of a provider.
// It is loaded from <config dir>/providers/<name>.yaml.
type Infrastructure struct {
	Name       string     `yaml:"name"`
	Defaults   Defaults   `yaml:"defaults"`
	Categories []Category `yaml:"categories"`
	Presets    []Preset   `yaml:"presets"`

	// dir is the directory preset templates are resolved against.
	dir string
}

// Defaults holds provider-wide defaults for new profiles.
type Defaults struct {
	Username            string `yaml:"username,omitempty"`
	RequiresCredentials bool   `yaml:"requires_credentials"`
	Pool                string `yaml:"pool,omitempty"`
	Preset              string `yaml:"preset"`
}

// Category groups server groups, e.g. "standard" or "streaming".
type Category struct {
	Name   string  `yaml:"name"`
	Groups []Group `yaml:"groups"`
}

// Group is a set of pools in the same country and area.
type Group struct {
	Country string `yaml:"country"`
	Area    string `yaml:"area,omitempty"`
	Pools   []Pool `yaml:"pools"`
}

// Key returns "country/area", or just the country when no area is set.
func (g Group) Key() string {
	if g.Area == "" {
		return g.Country
	}
	return g.Country + "/" + g.Area
}

// Pool is a server pool reachable through one hostname.
type Pool struct {
	ID        string   `yaml:"id"`
	Hostname  string   `yaml:"hostname"`
	Addresses []string `yaml:"addresses,omitempty"`
	// Presets restricts the pool to these preset ids; empty means all.
	Presets []string `yaml:"presets,omitempty"`
}

// SupportedPresets returns the presets of infra usable with this pool.
func (p Pool) SupportedPresets(infra *Infrastructure) []Preset {
	if len(p.Presets) == 0 {
		return infra.Presets
	}
	var out []Preset
	for _, preset := range infra.Presets {
		if common.StringInSlice(preset.ID, p.Presets) {
			out = append(out, preset)
		}
	}
	return out
}

// Supports reports whether presetID can be used with this pool.
func (p Pool) Supports(infra *Infrastructure, presetID string) bool {
	for _, preset := range p.SupportedPresets(infra) {
		if preset.ID == presetID {
			return true
		}
	}
	return false
}

// Preset is a connection template with its endpoint protocols.
type Preset struct {
	ID        string             `yaml:"id"`
	Title     string             `yaml:"title,omitempty"`
	Template  string             `yaml:"template"`
	Protocols []EndpointProtocol `yaml:"protocols"`
}

// LoadInfrastructure reads the named provider file from dir.
func LoadInfrastructure(dir, name string) (*Infrastructure, error) {
	if !common.IsFilenameSafe(name) {
		return nil, fmt.Errorf("%w: invalid provider name %q", common.ErrInvalidConfig, name)
	}

	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider %s: %w", name, err)
	}

	var infra Infrastructure
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&infra); err != nil {
		return nil, fmt.Errorf("%w: provider %s: %v", common.ErrInvalidConfig, name, err)
	}
	if infra.Name == "" {
		infra.Name = name
	}
	infra.dir = dir

	if err := infra.validate(); err != nil {
		return nil, err
	}
	return &infra, nil
}

func (i *Infrastructure) validate() error {
	if len(i.Presets) == 0 {
		return fmt.Errorf("%w: provider %s has no presets", common.ErrInvalidConfig, i.Name)
	}
	if i.Preset(i.Defaults.Preset) == nil {
		return fmt.Errorf("%w: provider %s: unknown default preset %q", common.ErrInvalidConfig, i.Name, i.Defaults.Preset)
	}

	seen := make(map[string]bool)
	for _, pool := range i.Pools() {
		if pool.ID == "" || pool.Hostname == "" {
			return fmt.Errorf("%w: provider %s: pool requires id and hostname", common.ErrInvalidConfig, i.Name)
		}
		if seen[pool.ID] {
			return fmt.Errorf("%w: provider %s: duplicate pool %q", common.ErrInvalidConfig, i.Name, pool.ID)
		}
		seen[pool.ID] = true
	}
	if len(seen) == 0 {
		return fmt.Errorf("%w: provider %s has no pools", common.ErrInvalidConfig, i.Name)
	}
	return nil
}

// Pools returns every pool across all categories and groups.
func (i *Infrastructure) Pools() []Pool {
	var pools []Pool
	for _, c := range i.Categories {
		for _, g := range c.Groups {
			pools = append(pools, g.Pools...)
		}
	}
	return pools
}

// Pool returns the pool with the given id.
func (i *Infrastructure) Pool(id string) (Pool, bool) {
	for _, p := range i.Pools() {
		if p.ID == id {
			return p, true
		}
	}
	return Pool{}, false
}

// DefaultPool returns the configured default pool, or the first one.
func (i *Infrastructure) DefaultPool() Pool {
	if pool, ok := i.Pool(i.Defaults.Pool); ok {
		return pool
	}
	return i.Pools()[0]
}

// Preset returns the preset with the given id, or nil.
func (i *Infrastructure) Preset(id string) *Preset {
	for idx := range i.Presets {
		if i.Presets[idx].ID == id {
			return &i.Presets[idx]
		}
	}
	return nil
}

// TemplatePath returns the absolute path of a preset template.
func (i *Infrastructure) TemplatePath(preset *Preset) string {
	if filepath.IsAbs(preset.Template) {
		return preset.Template
	}
	return filepath.Join(i.dir, preset.Template)
}

// Groups returns all groups keyed by Group.Key, in sorted key order.
func (i *Infrastructure) Groups() []Group {
	byKey := make(map[string]Group)
	for _, c := range i.Categories {
		for _, g := range c.Groups {
			if existing, ok := byKey[g.Key()]; ok {
				existing.Pools = append(existing.Pools, g.Pools...)
				byKey[g.Key()] = existing
				continue
			}
			byKey[g.Key()] = g
		}
	}

	groups := make([]Group, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Key() < groups[b].Key() })
	return groups
}

// RandomPool picks a random pool from the group with the given key.
func (i *Infrastructure) RandomPool(groupKey string) (Pool, error) {
	for _, g := range i.Groups() {
		if g.Key() != groupKey {
			continue
		}
		if len(g.Pools) == 0 {
			break
		}
		return g.Pools[rand.Intn(len(g.Pools))], nil
	}
	return Pool{}, fmt.Errorf("%w: group %q", common.ErrPoolNotFound, groupKey)
}

// GroupOf returns the key of the group containing poolID.
func (i *Infrastructure) GroupOf(poolID string) string {
	for _, c := range i.Categories {
		for _, g := range c.Groups {
			for _, p := range g.Pools {
				if p.ID == poolID {
					return g.Key()
				}
			}
		}
	}
	return ""
}
