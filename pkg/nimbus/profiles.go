package nimbus

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile mutates a ClusterOptions in place, the same "apply a named
// preset over a base config" idiom as a functional option, but keyed by
// name so it can be selected from a connection string or a config file
// instead of composed in code.
type Profile func(*ClusterOptions)

var (
	profilesMu sync.RWMutex
	profiles   = map[string]Profile{
		"wan_development": wanDevelopmentProfile,
	}
)

// wanDevelopmentProfile widens every timeout for a cluster reached over a
// slow WAN link during development, per §6.
func wanDevelopmentProfile(o *ClusterOptions) {
	o.KVTimeout = 20 * time.Second
	o.KVDurableTimeout = 20 * time.Second
	o.QueryTimeout = 2 * time.Minute
	o.AnalyticsTimeout = 2 * time.Minute
	o.SearchTimeout = 2 * time.Minute
	o.ViewTimeout = 2 * time.Minute
	o.ManagementTimeout = 2 * time.Minute
}

// RegisterProfile adds or replaces a named profile in the global
// registry. Built-in profiles may be overridden, matching the teacher's
// pattern of a mutable registry populated at init time and extendable by
// callers.
func RegisterProfile(name string, p Profile) {
	profilesMu.Lock()
	defer profilesMu.Unlock()
	profiles[name] = p
}

// ApplyProfile looks up name in the registry and applies it to o,
// returning an error if no such profile is registered.
func ApplyProfile(name string, o *ClusterOptions) error {
	profilesMu.RLock()
	p, ok := profiles[name]
	profilesMu.RUnlock()
	if !ok {
		return fmt.Errorf("nimbus: no profile registered named %q", name)
	}
	p(o)
	return nil
}

// profileFile is the on-disk shape of a YAML profile file: a flat set of
// per-service timeouts (in milliseconds, keys ending in _ms), compression
// and network, checked into a deployment instead of passed on a command
// line.
type profileFile struct {
	KVTimeoutMS         int64  `yaml:"kv_timeout_ms"`
	QueryTimeoutMS      int64  `yaml:"query_timeout_ms"`
	AnalyticsTimeoutMS  int64  `yaml:"analytics_timeout_ms"`
	SearchTimeoutMS     int64  `yaml:"search_timeout_ms"`
	ViewTimeoutMS       int64  `yaml:"view_timeout_ms"`
	ManagementTimeoutMS int64  `yaml:"management_timeout_ms"`
	Compression         *bool  `yaml:"compression"`
	Network             string `yaml:"network"`
}

// LoadProfileFile reads a YAML profile file from path and returns a
// Profile applying its contents; zero/absent fields leave the base
// ClusterOptions untouched.
func LoadProfileFile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nimbus: read profile file %s: %w", path, err)
	}
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("nimbus: parse profile file %s: %w", path, err)
	}

	return func(o *ClusterOptions) {
		if pf.KVTimeoutMS > 0 {
			o.KVTimeout = time.Duration(pf.KVTimeoutMS) * time.Millisecond
		}
		if pf.QueryTimeoutMS > 0 {
			o.QueryTimeout = time.Duration(pf.QueryTimeoutMS) * time.Millisecond
		}
		if pf.AnalyticsTimeoutMS > 0 {
			o.AnalyticsTimeout = time.Duration(pf.AnalyticsTimeoutMS) * time.Millisecond
		}
		if pf.SearchTimeoutMS > 0 {
			o.SearchTimeout = time.Duration(pf.SearchTimeoutMS) * time.Millisecond
		}
		if pf.ViewTimeoutMS > 0 {
			o.ViewTimeout = time.Duration(pf.ViewTimeoutMS) * time.Millisecond
		}
		if pf.ManagementTimeoutMS > 0 {
			o.ManagementTimeout = time.Duration(pf.ManagementTimeoutMS) * time.Millisecond
		}
		if pf.Compression != nil {
			o.Compression = *pf.Compression
		}
		if pf.Network != "" {
			o.Network = pf.Network
		}
	}, nil
}
