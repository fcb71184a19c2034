// Package main is the process entry point for the lighting core: it
// wires configuration, scene storage, the fixture plan, the event
// broadcaster, the Art-Net streaming engine and the controller
// together and runs until interrupted.
//
// The HTTP API, browser UI, operator PIN gate, and config-file loading
// that would normally sit in front of this core are external
// collaborators and are not built here; this binary only proves the
// core wiring starts and stops cleanly.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Kortesaas/venue-light-controller/internal/config"
	"github.com/Kortesaas/venue-light-controller/internal/controller"
	"github.com/Kortesaas/venue-light-controller/internal/events"
	"github.com/Kortesaas/venue-light-controller/internal/fixtureplan"
	"github.com/Kortesaas/venue-light-controller/internal/scenestore"
	"github.com/Kortesaas/venue-light-controller/internal/streaming"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg := config.Default()

	if settings, ok, err := config.LoadRuntimeSettings(cfg.RuntimeSettingsPath); err != nil {
		log.Printf("Warning: failed to load runtime settings: %v", err)
	} else if ok {
		cfg = cfg.Apply(settings)
	}

	printBanner(cfg)

	scenes, err := scenestore.New(cfg.ScenesPath)
	if err != nil {
		log.Fatalf("Failed to open scene store: %v", err)
	}

	fixtures, found, err := fixtureplan.Load(cfg.FixturePlanPath)
	if err != nil {
		log.Fatalf("Failed to load fixture plan: %v", err)
	}
	if found {
		log.Printf("💡 Loaded fixture plan from %s", cfg.FixturePlanPath)
	} else {
		log.Printf("No fixture plan found at %s, group operations disabled", cfg.FixturePlanPath)
	}

	bus := events.New()
	defer bus.Close()

	engine := streaming.New()
	ctrl := controller.New(cfg, scenes, fixtures, bus, engine)
	defer func() {
		if err := ctrl.Stop(); err != nil {
			log.Printf("Warning: error stopping controller: %v", err)
		}
	}()

	sceneList, err := scenes.List()
	if err != nil {
		log.Fatalf("Failed to list scenes: %v", err)
	}
	log.Printf("Controller ready: %d scene(s), %d universe(s)", len(sceneList), cfg.UniverseCount)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
}

// printBanner prints the startup banner.
func printBanner(cfg config.Config) {
	fmt.Println("============================================")
	fmt.Println("  Venue Lighting Controller")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Local IP:      %s\n", cfg.LocalIP)
	fmt.Printf("  Node IP:       %s\n", cfg.NodeIP)
	fmt.Printf("  DMX FPS:       %.1f\n", cfg.DMXFps)
	fmt.Printf("  Universes:     %d\n", cfg.UniverseCount)
	fmt.Println("============================================")
}
