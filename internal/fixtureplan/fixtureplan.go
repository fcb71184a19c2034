// Package fixtureplan exposes the consumed side of fixture metadata: the
// set of intensity-role addresses the master dimmer scales in
// parameter-aware mode, and the group-dimmer layout the playback mixer
// needs. It does not import fixture plans from MA3 XML exports — that
// importer lives outside the core — it only reads the JSON shape the
// importer already persisted.
package fixtureplan

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Kortesaas/venue-light-controller/internal/mixer"
)

// Role classifies what a fixture parameter controls, inferred from its
// name the same way the plan importer does.
type Role string

const (
	RoleIntensity Role = "intensity"
	RoleColor     Role = "color"
	RolePosition  Role = "position"
	RoleBeam      Role = "beam"
	RoleControl   Role = "control"
	RoleOther     Role = "other"
)

// InferRole classifies a parameter name into a Role using the same
// keyword buckets as the plan importer, so consumers downstream of an
// imported plan agree with the importer's own classification.
func InferRole(parameterName string) Role {
	value := strings.ToUpper(strings.TrimSpace(parameterName))

	switch {
	case containsAny(value, "DIMMER", "INTENSITY", "MASTERDIM"):
		return RoleIntensity
	case containsAny(value, "COLOR", "COLOUR", "RGB", "CMY", "CTO", "CTB", "WHITE", "UV", "AMBER", "LIME"):
		return RoleColor
	case containsAny(value, "PAN", "TILT", "POSITION", "POS", "ZOOM", "FOCUS", "IRIS"):
		return RolePosition
	case containsAny(value, "SHUTTER", "STROBE", "GOBO", "PRISM", "FROST", "BEAM"):
		return RoleBeam
	case containsAny(value, "MACRO", "PROGRAM", "MODE", "RATE", "SPEED", "CONTROL", "RESET"):
		return RoleControl
	default:
		return RoleOther
	}
}

func containsAny(value string, tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(value, t) {
			return true
		}
	}
	return false
}

// Parameter is one fixture parameter's DMX address and inferred role.
type Parameter struct {
	Universe int    `json:"universe"`
	Channel  int    `json:"channel"`
	Name     string `json:"name"`
	Fixture  string `json:"fixture"`
	Role     Role   `json:"role"`
}

// Fixture groups the parameters that belong to one physical fixture.
type Fixture struct {
	Name       string      `json:"fixture"`
	Parameters []Parameter `json:"parameters"`
}

// Plan is the persisted shape written by the (out-of-scope) fixture-plan
// importer: a flat address map plus the fixtures it was derived from.
type Plan struct {
	Version        int                  `json:"version"`
	ImportedAt     string               `json:"imported_at"`
	SourceFilename string               `json:"source_filename,omitempty"`
	FixtureCount   int                  `json:"fixture_count"`
	ParameterCount int                  `json:"parameter_count"`
	Universes      []int                `json:"universes"`
	Fixtures       []Fixture            `json:"fixtures"`
	AddressMap     map[string]Parameter `json:"address_map"`
}

// Metadata is the read-only consumer contract §4.3/§6 describe: intensity
// address lookup for the master dimmer and group layout for group
// dimmers. A nil *Metadata means no active plan (raw master dimmer mode,
// no groups).
type Metadata struct {
	plan Plan
}

// Load reads a persisted fixture plan from path. A missing file returns
// (nil, false, nil) so callers treat it the same as "no plan loaded".
func Load(path string) (*Metadata, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read fixture plan: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, false, fmt.Errorf("parse fixture plan: %w", err)
	}
	return &Metadata{plan: plan}, true, nil
}

func addressKey(universe, channel int) string {
	return fmt.Sprintf("%d:%d", universe, channel)
}

// Lookup returns the parameter bound to (universe, channel), if any.
func (m *Metadata) Lookup(universe, channel int) (Parameter, bool) {
	if m == nil {
		return Parameter{}, false
	}
	p, ok := m.plan.AddressMap[addressKey(universe, channel)]
	return p, ok
}

// addressSet implements mixer.IntensityAddressSet.
type addressSet map[string]bool

func (s addressSet) Contains(universe, channel int) bool {
	return s[addressKey(universe, channel)]
}

// IntensityAddresses returns the set of (universe, channel) addresses
// whose role is "intensity", or a nil interface if m is nil (no plan
// loaded, raw mode). Returning the interface type directly, rather than
// the concrete addressSet, matters here: a nil map wrapped in a
// non-nil interface value would make the mixer's parameter-aware check
// (intensity != nil) true even with no plan loaded.
func (m *Metadata) IntensityAddresses() mixer.IntensityAddressSet {
	if m == nil {
		return nil
	}
	set := make(addressSet)
	for key, p := range m.plan.AddressMap {
		if p.Role == RoleIntensity {
			set[key] = true
		}
	}
	return set
}

// GroupLayout is the static shape of one group dimmer, derived from the
// fixture plan: one group per fixture, scoped to that fixture's
// intensity-role addresses (the channels a dimmer control actually
// affects).
type GroupLayout struct {
	Key           string
	Name          string
	FixtureCount  int
	ChannelCount  int
	Addresses     []Address
}

// Address identifies one DMX channel.
type Address struct {
	Universe int
	Channel  int
}

// Groups derives the group-dimmer layout from the active plan: one group
// per fixture name, holding that fixture's intensity-role addresses.
// Fixtures with no intensity-role parameter are omitted, since they have
// nothing for a dimmer group to scale. Returns nil if m is nil.
func (m *Metadata) Groups() []GroupLayout {
	if m == nil {
		return nil
	}

	var layouts []GroupLayout
	for _, fixture := range m.plan.Fixtures {
		var addrs []Address
		for _, p := range fixture.Parameters {
			if p.Role == RoleIntensity {
				addrs = append(addrs, Address{Universe: p.Universe, Channel: p.Channel})
			}
		}
		if len(addrs) == 0 {
			continue
		}
		layouts = append(layouts, GroupLayout{
			Key:          fixture.Name,
			Name:         fixture.Name,
			FixtureCount: 1,
			ChannelCount: len(addrs),
			Addresses:    addrs,
		})
	}

	sort.Slice(layouts, func(i, j int) bool { return layouts[i].Key < layouts[j].Key })
	return layouts
}
