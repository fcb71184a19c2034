// Package config defines the controller's configuration surface.
//
// Loading values from environment variables or a config file is outside
// the core (see the top-level design notes); this package only owns the
// shape of a resolved Config and the persistence of the small subset of
// it that the controller itself can mutate at runtime.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// Config holds the resolved configuration for one controller instance.
// Callers (the excluded HTTP/config-file layer) are responsible for
// populating it; this package only supplies defaults.
type Config struct {
	LocalIP  string  // bind interface for outbound sockets
	NodeIP   string  // unicast destination for ArtPoll
	DMXFps   float64 // broadcast rate; <= 0 disables pacing
	PollIntervalSeconds float64

	UniverseCount int // count of zero-based universes managed, >= 1

	ScenesPath           string
	RuntimeSettingsPath  string
	FixturePlanPath      string

	// Overlay channel addresses, 1-based; channel 0 disables the overlay.
	FogFlashUniverse int
	FogFlashChannel  int
	HazeUniverse     int
	HazeChannel      int

	// OperatorPINHash is the SHA-256 hex digest of the operator PIN.
	OperatorPINHash string
}

// DefaultPIN is the factory operator PIN, "0815".
const DefaultPIN = "0815"

// Default returns a Config populated with the documented defaults.
func Default() Config {
	return Config{
		LocalIP:             "2.0.0.30",
		NodeIP:              "2.0.0.10",
		DMXFps:              30.0,
		PollIntervalSeconds: 5.0,
		UniverseCount:       1,
		ScenesPath:          "./scenes",
		RuntimeSettingsPath: "./settings.runtime.json",
		FixturePlanPath:     "./fixture_plan.active.json",
		FogFlashUniverse:    1,
		FogFlashChannel:     0,
		HazeUniverse:        1,
		HazeChannel:         0,
		OperatorPINHash:     HashPIN(DefaultPIN),
	}
}

// HashPIN returns the SHA-256 hex digest of a PIN string, the form
// OperatorPINHash is stored and compared in.
func HashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// RuntimeSettings is the subset of Config the controller can persist
// back to disk after a runtime change (e.g. an operator changing the
// node IP or frame rate from the panel).
type RuntimeSettings struct {
	NodeIP              string  `json:"node_ip"`
	DMXFps              float64 `json:"dmx_fps"`
	PollIntervalSeconds float64 `json:"poll_interval"`
	UniverseCount       int     `json:"universe_count"`
}

// RuntimeSettingsFromConfig extracts the persisted fields from a Config.
func RuntimeSettingsFromConfig(c Config) RuntimeSettings {
	return RuntimeSettings{
		NodeIP:              c.NodeIP,
		DMXFps:              c.DMXFps,
		PollIntervalSeconds: c.PollIntervalSeconds,
		UniverseCount:       c.UniverseCount,
	}
}

// LoadRuntimeSettings reads previously persisted runtime settings from
// path. A missing file is not an error; it returns the zero value and a
// false ok so callers fall back to Config defaults.
func LoadRuntimeSettings(path string) (RuntimeSettings, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RuntimeSettings{}, false, nil
		}
		return RuntimeSettings{}, false, fmt.Errorf("read runtime settings: %w", err)
	}

	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, false, fmt.Errorf("parse runtime settings: %w", err)
	}
	return settings, true, nil
}

// PersistRuntimeSettings atomically writes settings to path, creating or
// replacing the file without ever leaving a half-written version behind.
func PersistRuntimeSettings(path string, settings RuntimeSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode runtime settings: %w", err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

// Apply overlays persisted runtime settings onto a base Config, returning
// the merged result. Fields not present in RuntimeSettings are left as
// the base value.
func (c Config) Apply(settings RuntimeSettings) Config {
	merged := c
	merged.NodeIP = settings.NodeIP
	merged.DMXFps = settings.DMXFps
	merged.PollIntervalSeconds = settings.PollIntervalSeconds
	merged.UniverseCount = settings.UniverseCount
	return merged
}
