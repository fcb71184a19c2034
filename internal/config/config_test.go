package config

import (
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()

	if c.LocalIP != "2.0.0.30" {
		t.Errorf("LocalIP = %q, want 2.0.0.30", c.LocalIP)
	}
	if c.NodeIP != "2.0.0.10" {
		t.Errorf("NodeIP = %q, want 2.0.0.10", c.NodeIP)
	}
	if c.DMXFps != 30.0 {
		t.Errorf("DMXFps = %v, want 30.0", c.DMXFps)
	}
	if c.UniverseCount != 1 {
		t.Errorf("UniverseCount = %d, want 1", c.UniverseCount)
	}
	if c.OperatorPINHash != HashPIN("0815") {
		t.Errorf("OperatorPINHash does not match HashPIN(0815)")
	}
}

func TestHashPIN(t *testing.T) {
	got := HashPIN("0815")
	if len(got) != 64 {
		t.Errorf("HashPIN length = %d, want 64 hex chars", len(got))
	}
	if HashPIN("0815") != got {
		t.Errorf("HashPIN is not deterministic")
	}
	if HashPIN("1234") == got {
		t.Errorf("HashPIN collided for different inputs")
	}
}

func TestRuntimeSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.runtime.json")

	if _, ok, err := LoadRuntimeSettings(path); err != nil || ok {
		t.Fatalf("LoadRuntimeSettings on missing file = (%v, %v, %v), want (_, false, nil)", RuntimeSettings{}, ok, err)
	}

	settings := RuntimeSettings{
		NodeIP:              "10.0.0.5",
		DMXFps:              44,
		PollIntervalSeconds: 3,
		UniverseCount:       2,
	}
	if err := PersistRuntimeSettings(path, settings); err != nil {
		t.Fatalf("PersistRuntimeSettings() error = %v", err)
	}

	got, ok, err := LoadRuntimeSettings(path)
	if err != nil || !ok {
		t.Fatalf("LoadRuntimeSettings() = (%v, %v, %v)", got, ok, err)
	}
	if got != settings {
		t.Errorf("LoadRuntimeSettings() = %+v, want %+v", got, settings)
	}
}

func TestApply(t *testing.T) {
	base := Default()
	merged := base.Apply(RuntimeSettings{
		NodeIP:              "10.0.0.9",
		DMXFps:              20,
		PollIntervalSeconds: 7,
		UniverseCount:       3,
	})

	if merged.NodeIP != "10.0.0.9" || merged.DMXFps != 20 || merged.UniverseCount != 3 {
		t.Errorf("Apply() = %+v", merged)
	}
	if merged.LocalIP != base.LocalIP {
		t.Errorf("Apply() should not touch LocalIP, got %q", merged.LocalIP)
	}
}
