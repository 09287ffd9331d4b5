// Package config defines babeld's on-disk configuration and how it is
// loaded, following the same default-then-overlay pattern as
// coordinator.LoadConfig/route's coordinator.DefaultConfig.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/babeld-go/babeld/internal/babel/filter"
	"github.com/babeld-go/babeld/internal/logging"
)

// routeRecordSize approximates the in-memory footprint of one
// internal/babel/route.Route (pointers, a netip.Addr, two timestamps) used
// to derive MAX_ROUTES from RouteTableMemory (spec §3 "MAX_ROUTES is derived
// at startup").
const routeRecordSize = 256

// minRoutes is the floor MaxRoutes derives to, however small
// RouteTableMemory is set, so a daemon never starts with a table too small
// to hold its own directly connected networks.
const minRoutes = 64

// Config is the top-level babeld configuration.
type Config struct {
	// Logging configures the logging subsystem.
	Logging logging.Config `yaml:"logging"`
	// Babel configures the route-table core and its daemon wiring.
	Babel BabelConfig `yaml:"babel"`
	// Admin configures the introspection/health surface.
	Admin AdminConfig `yaml:"admin"`
}

// BabelConfig configures the route-table core.
type BabelConfig struct {
	// RouteTableMemory bounds the RouteStore's memory footprint; MaxRoutes
	// is derived from it at startup (spec §3).
	RouteTableMemory datasize.ByteSize `yaml:"route_table_memory"`
	// KernelBase is added to the translated kernel metric for every
	// installed route (spec §3, Metric Engine).
	KernelBase int `yaml:"kernel_base"`
	// MaintenancePeriod is how often the maintenance scheduler sweeps the
	// table for expiry/GC. Zero selects maintenance.DefaultPeriod.
	MaintenancePeriod time.Duration `yaml:"maintenance_period"`
	// Redistribute lists prefixes always treated as xroutes, taking
	// priority over any learned route for the same destination.
	Redistribute []netip.Prefix `yaml:"redistribute"`
	// Filters are evaluated in order against every inbound update; the
	// first match's AddMetric (or Deny) applies.
	Filters []filter.Rule `yaml:"filters"`
}

// AdminConfig configures the admin/introspection surface.
type AdminConfig struct {
	// GRPCEndpoint serves the gRPC health service.
	GRPCEndpoint string `yaml:"grpc_endpoint"`
	// HTTPEndpoint serves the JSON /routes and /sources introspection
	// endpoints.
	HTTPEndpoint string `yaml:"http_endpoint"`
}

// MaxRoutes derives MAX_ROUTES from RouteTableMemory, floored at minRoutes.
func (c BabelConfig) MaxRoutes() int {
	n := int(c.RouteTableMemory.Bytes() / routeRecordSize)
	if n < minRoutes {
		return minRoutes
	}
	return n
}

// DefaultConfig returns babeld's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{},
		Babel: BabelConfig{
			RouteTableMemory:  16 * datasize.MB,
			KernelBase:        0,
			MaintenancePeriod: 30 * time.Second,
		},
		Admin: AdminConfig{
			GRPCEndpoint: "[::1]:8090",
			HTTPEndpoint: "[::1]:8091",
		},
	}
}

// LoadConfig loads configuration from a YAML file at path, starting from
// DefaultConfig and overlaying whatever the file specifies.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	return cfg, nil
}
