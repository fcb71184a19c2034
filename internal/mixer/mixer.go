// Package mixer composes a base DMX payload with a master dimmer,
// per-group dimmers, and an atmosphere overlay into the effective
// payload that the streaming engine broadcasts.
package mixer

import "math"

// Address identifies a single DMX channel within a universe.
type Address struct {
	Universe int
	Channel  int // 1-based within the universe, matching fixture-plan addressing
}

// Group is one named collection of fixture addresses sharing a percent
// and mute control.
type Group struct {
	Key       string
	Percent   int // value_percent, 0..100
	Muted     bool
	Addresses []Address
}

// EffectivePercent returns 0 when muted, else Percent.
func (g Group) EffectivePercent() int {
	if g.Muted {
		return 0
	}
	return g.Percent
}

// Atmosphere holds the haze/fog-flash overlay configuration and state.
// A channel of 0 disables that overlay, per the config contract
// (1-based addressing, channel=0 disables).
type Atmosphere struct {
	HazeUniverse     int
	HazeChannel      int
	HazePercent      int
	FogFlashUniverse int
	FogFlashChannel  int
	FogFlashActive   bool
}

// IntensityAddressSet reports which (universe, channel) pairs are
// "intensity" channels for parameter-aware master dimming, or nil to
// indicate no fixture plan is loaded (raw mode).
type IntensityAddressSet interface {
	Contains(universe, channel int) bool
}

// Mix composes base into the effective payload broadcast by the
// streaming engine. base maps universe -> 512 channel values. masterPct
// and groups scale channels; atmosphere overlays replace channels after
// scaling. intensity may be nil, meaning no fixture plan is active and
// the master dimmer falls back to scaling every channel (raw mode).
//
// Ordering is deterministic: master, then groups, then atmosphere.
func Mix(base map[int][512]byte, masterPercent int, groups []Group, atmosphere Atmosphere, intensity IntensityAddressSet) map[int][512]byte {
	if len(base) == 0 {
		return map[int][512]byte{}
	}

	out := make(map[int][512]byte, len(base))
	for universe, values := range base {
		out[universe] = values
	}

	applyMasterDimmer(out, masterPercent, intensity)
	applyGroupDimmers(out, groups)
	applyAtmosphere(out, atmosphere)

	return out
}

func applyMasterDimmer(payload map[int][512]byte, percent int, intensity IntensityAddressSet) {
	if percent == 100 {
		return
	}

	parameterAware := intensity != nil

	for universe, values := range payload {
		for i := range values {
			if parameterAware && !intensity.Contains(universe, i+1) {
				continue
			}
			values[i] = scale(values[i], percent)
		}
		payload[universe] = values
	}
}

func applyGroupDimmers(payload map[int][512]byte, groups []Group) {
	if len(groups) == 0 {
		return
	}

	// effective[addr] tracks the minimum percent applied so far across
	// overlapping groups for that (universe, 1-based channel) address.
	effective := make(map[Address]int)

	for _, group := range groups {
		pct := group.EffectivePercent()
		for _, addr := range group.Addresses {
			if current, ok := effective[addr]; !ok || pct < current {
				effective[addr] = pct
			} else {
				effective[addr] = current
			}
		}
	}

	// Apply scaling once per touched channel using the minimum percent.
	for addr, pct := range effective {
		values, ok := payload[addr.Universe]
		if !ok || addr.Channel < 1 || addr.Channel > 512 {
			continue
		}
		values[addr.Channel-1] = scale(values[addr.Channel-1], pct)
		payload[addr.Universe] = values
	}
}

func applyAtmosphere(payload map[int][512]byte, a Atmosphere) {
	if a.HazeChannel >= 1 && a.HazeUniverse >= 1 {
		setChannel(payload, a.HazeUniverse-1, a.HazeChannel-1, byte(clampInt(roundPercent(a.HazePercent, 255), 0, 255)))
	}
	if a.FogFlashChannel >= 1 && a.FogFlashUniverse >= 1 {
		value := byte(0)
		if a.FogFlashActive {
			value = 255
		}
		setChannel(payload, a.FogFlashUniverse-1, a.FogFlashChannel-1, value)
	}
}

func setChannel(payload map[int][512]byte, universe, channelIndex int, value byte) {
	values, ok := payload[universe]
	if !ok {
		values = [512]byte{}
	}
	if channelIndex < 0 || channelIndex >= 512 {
		return
	}
	values[channelIndex] = value
	payload[universe] = values
}

// scale applies new = round(old * percent / 100), clamped to 0..255.
func scale(old byte, percent int) byte {
	v := math.Round(float64(old) * float64(percent) / 100.0)
	return byte(clampInt(int(v), 0, 255))
}

func roundPercent(percent, max int) int {
	return int(math.Round(float64(percent) * float64(max) / 100.0))
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
