package mixer

import "testing"

func fillPayload(universe int, value byte) map[int][512]byte {
	var values [512]byte
	for i := range values {
		values[i] = value
	}
	return map[int][512]byte{universe: values}
}

func TestMixIdentityAt100Percent(t *testing.T) {
	base := fillPayload(0, 173)
	got := Mix(base, 100, nil, Atmosphere{}, nil)

	if got[0] != base[0] {
		t.Fatalf("Mix(base, 100, nil, ...) changed the payload")
	}
}

func TestMixMasterDimmerRawMode(t *testing.T) {
	base := fillPayload(0, 200)
	got := Mix(base, 50, nil, Atmosphere{}, nil)

	values := got[0]
	for i, v := range values {
		if v != 100 {
			t.Fatalf("channel %d = %d, want 100 (round(200*50/100))", i, v)
		}
	}
}

type fixedIntensitySet struct {
	addresses map[Address]bool
}

func (s fixedIntensitySet) Contains(universe, channel int) bool {
	return s.addresses[Address{Universe: universe, Channel: channel}]
}

func TestMixMasterDimmerParameterAwareMode(t *testing.T) {
	base := fillPayload(0, 200)
	intensity := fixedIntensitySet{addresses: map[Address]bool{
		{Universe: 0, Channel: 1}: true,
	}}

	got := Mix(base, 50, nil, Atmosphere{}, intensity)
	values := got[0]

	if values[0] != 100 {
		t.Errorf("intensity channel 1 = %d, want 100", values[0])
	}
	if values[1] != 200 {
		t.Errorf("non-intensity channel 2 = %d, want unchanged 200", values[1])
	}
}

func TestMixGroupDimmerMinimumRule(t *testing.T) {
	base := fillPayload(0, 200)
	groups := []Group{
		{Key: "g1", Percent: 60, Addresses: []Address{{0, 1}, {0, 2}}},
		{Key: "g2", Percent: 20, Addresses: []Address{{0, 2}, {0, 3}}},
	}

	got := Mix(base, 100, groups, Atmosphere{}, nil)
	values := got[0]

	if values[0] != 120 {
		t.Errorf("channel 1 = %d, want 120", values[0])
	}
	if values[1] != 40 {
		t.Errorf("channel 2 = %d, want 40 (min of 60%% and 20%%)", values[1])
	}
	if values[2] != 40 {
		t.Errorf("channel 3 = %d, want 40", values[2])
	}
	for i := 3; i < 512; i++ {
		if values[i] != 200 {
			t.Fatalf("channel %d = %d, want unchanged 200", i+1, values[i])
		}
	}
}

func TestMixGroupDimmerMuted(t *testing.T) {
	base := fillPayload(0, 200)
	groups := []Group{
		{Key: "g1", Percent: 80, Muted: true, Addresses: []Address{{0, 1}}},
	}

	got := Mix(base, 100, groups, Atmosphere{}, nil)
	if got[0][0] != 0 {
		t.Errorf("muted group channel = %d, want 0", got[0][0])
	}
}

func TestMixAtmosphereOverlayReplacesNotScales(t *testing.T) {
	base := fillPayload(0, 200)
	atmosphere := Atmosphere{
		HazeUniverse:     1,
		HazeChannel:      5,
		HazePercent:      50,
		FogFlashUniverse: 1,
		FogFlashChannel:  6,
		FogFlashActive:   true,
	}

	got := Mix(base, 10, nil, atmosphere, nil)
	values := got[0]

	if values[4] != 128 {
		t.Errorf("haze channel = %d, want round(50*255/100)=128", values[4])
	}
	if values[5] != 255 {
		t.Errorf("fog flash channel = %d, want 255", values[5])
	}
	// Channels other than the overlays should still reflect master scaling.
	if values[0] != 20 {
		t.Errorf("channel 1 = %d, want 20 (round(200*10/100))", values[0])
	}
}

func TestMixAtmosphereDisabledWhenChannelZero(t *testing.T) {
	base := fillPayload(0, 200)
	atmosphere := Atmosphere{HazeUniverse: 1, HazeChannel: 0, HazePercent: 99}

	got := Mix(base, 100, nil, atmosphere, nil)
	if got[0] != base[0] {
		t.Fatalf("disabled atmosphere overlay (channel=0) should leave payload untouched")
	}
}

func TestMixEmptyBaseProducesEmptyEffective(t *testing.T) {
	got := Mix(nil, 50, nil, Atmosphere{}, nil)
	if len(got) != 0 {
		t.Fatalf("Mix(nil, ...) = %v, want empty map", got)
	}
}

func TestMixMonotoneNonIncreasing(t *testing.T) {
	base := fillPayload(0, 255)
	prev := byte(255)
	for pct := 100; pct >= 0; pct -= 10 {
		got := Mix(base, pct, nil, Atmosphere{}, nil)
		v := got[0][0]
		if v > prev {
			t.Fatalf("value increased from %d to %d as percent decreased to %d", prev, v, pct)
		}
		if v > 255 {
			t.Fatalf("value %d exceeds 255", v)
		}
		prev = v
	}
}
