// Package filter implements the input filter collaborator: an additive
// metric penalty (or outright drop, via babel.Infinity) applied to
// incoming updates before they ever reach the Feasibility Oracle.
//
// Rules are configured as glob patterns over the advertising interface
// name, compiled once at load time with gobwas/glob rather than compared
// as exact strings, so operators can write "eth*" or "wg-*" the way they
// would in a firewall or ACL config.
package filter

import (
	"fmt"
	"net/netip"

	"github.com/gobwas/glob"

	"github.com/babeld-go/babeld/internal/babel"
)

// Filter is the collaborator interface the route package depends on.
type Filter interface {
	// Input returns the add-metric for an update received on ifName for
	// prefix from origin via neigh. babel.Infinity means "drop".
	Input(origin babel.NodeID, prefix netip.Prefix, neigh babel.NodeID, ifName string) uint16
}

// Rule matches updates by advertising interface and/or destination prefix,
// contributing AddMetric if it matches, or dropping the update entirely
// when Deny is set.
type Rule struct {
	// Interface is a glob pattern over the advertising interface name.
	// An empty pattern matches any interface.
	Interface string `yaml:"interface"`
	// Prefix restricts the rule to updates for this exact destination; a
	// zero netip.Prefix matches any destination.
	Prefix netip.Prefix `yaml:"prefix"`
	// AddMetric is added to the route's effective metric when this rule
	// matches.
	AddMetric uint16 `yaml:"add_metric"`
	// Deny drops the update outright (equivalent to AddMetric >= Infinity)
	// regardless of AddMetric.
	Deny bool `yaml:"deny"`
}

type compiledRule struct {
	iface     glob.Glob
	prefix    netip.Prefix
	hasPrefix bool
	addMetric uint16
	deny      bool
}

// GlobFilter is the reference Filter, evaluating a config-driven ordered
// list of rules and returning the first match's penalty, or zero if
// nothing matches.
type GlobFilter struct {
	rules []compiledRule
}

// NewGlobFilter compiles rules into a GlobFilter. Returns an error if any
// interface pattern fails to compile.
func NewGlobFilter(rules []Rule) (*GlobFilter, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		pattern := r.Interface
		if pattern == "" {
			pattern = "*"
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling filter rule for interface %q: %w", r.Interface, err)
		}
		compiled = append(compiled, compiledRule{
			iface:     g,
			prefix:    r.Prefix,
			hasPrefix: r.Prefix.IsValid(),
			addMetric: r.AddMetric,
			deny:      r.Deny,
		})
	}
	return &GlobFilter{rules: compiled}, nil
}

// Input implements Filter. ifName is supplied by the caller of
// route.Handler.UpdateRoute together with each update; the route package
// itself only knows the neighbour's interface index.
func (f *GlobFilter) Input(_ babel.NodeID, prefix netip.Prefix, _ babel.NodeID, ifName string) uint16 {
	for _, r := range f.rules {
		if r.hasPrefix && r.prefix != prefix {
			continue
		}
		if !r.iface.Match(ifName) {
			continue
		}
		if r.deny {
			return babel.Infinity
		}
		return r.addMetric
	}
	return 0
}
