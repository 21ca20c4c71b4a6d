package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bnbong/bifrost/internal/config"
)

// Snapshot is a point-in-time copy of the registry contents.
// Callers own the map; changing it does not affect the registry.
type Snapshot map[string]Descriptor

// Names returns the service names in sorted order.
func (s Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// DefaultServices returns the built-in services used when no snapshot
// file exists.
func DefaultServices() Snapshot {
	defaults := map[string]ServiceConfig{
		"qshing-server": {
			URL:         "https://qshing-server.example.com",
			HealthCheck: "/health",
			Timeout:     config.Duration(30 * time.Second),
			RateLimit:   100,
		},
		"hello": {
			URL:         "https://hello-service.example.com",
			HealthCheck: "/health",
			Timeout:     config.Duration(30 * time.Second),
			RateLimit:   100,
		},
	}

	snap := make(Snapshot, len(defaults))
	for name, cfg := range defaults {
		d, err := NewDescriptor(name, cfg)
		if err != nil {
			panic(fmt.Sprintf("invalid built-in service %s: %v", name, err))
		}
		snap[name] = d
	}
	return snap
}

// LoadSnapshot reads a services file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON. A single invalid entry fails
// the whole load.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read services file %s: %w", path, err)
	}

	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}

	snap, err := ParseSnapshot(data, format)
	if err != nil {
		return nil, fmt.Errorf("services file %s: %w", path, err)
	}
	return snap, nil
}

// ParseSnapshot parses a name -> ServiceConfig document in the given
// format ("json" or "yaml").
func ParseSnapshot(data []byte, format string) (Snapshot, error) {
	var raw map[string]ServiceConfig

	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case "json":
		if len(bytes.TrimSpace(data)) == 0 {
			return Snapshot{}, nil
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}

	snap := make(Snapshot, len(raw))
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		d, err := NewDescriptor(name, raw[name])
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		snap[name] = d
	}
	return snap, nil
}
