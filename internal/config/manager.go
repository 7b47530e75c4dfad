package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/ocx/pyexec/internal/types"
)

// ProfilesConfig holds the named Settings overrides document, e.g.
// a "strict" profile that tightens the default timeout and allowlist.
type ProfilesConfig struct {
	Profiles map[string]types.Settings `yaml:"profiles"`
}

// Manager resolves a named profile to an effective Settings value,
// merging a profile override onto the global Config's Settings the
// way the teacher's Manager merges a tenant override onto the global
// Config.
type Manager struct {
	global   *Config
	profiles map[string]types.Settings
	mu       sync.RWMutex
}

// NewManager loads the master config and an optional profiles file.
// A missing profiles file is not an error: Manager.Get simply always
// returns the global Settings in that case.
func NewManager(masterPath, profilesPath string) (*Manager, error) {
	master, err := LoadConfig(masterPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(profilesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{global: master, profiles: make(map[string]types.Settings)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var pc ProfilesConfig
	if err := yaml.NewDecoder(f).Decode(&pc); err != nil {
		return nil, err
	}

	return &Manager{global: master, profiles: pc.Profiles}, nil
}

// Get returns the effective Settings for a named profile, merging any
// non-zero override field onto the global profile (§3.2: zero-valued
// fields fall back to the global profile, same merge-if-nonzero
// discipline as the teacher's Manager.Get).
func (m *Manager) Get(profile string) types.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := m.global.Settings.Clone()

	override, ok := m.profiles[profile]
	if !ok {
		return effective
	}

	if override.TimeoutNS != 0 {
		effective.TimeoutNS = override.TimeoutNS
	}
	if override.MaxOutputBytes != 0 {
		effective.MaxOutputBytes = override.MaxOutputBytes
	}
	if len(override.AllowedModules) != 0 {
		effective.AllowedModules = append([]string(nil), override.AllowedModules...)
	}

	return effective
}
