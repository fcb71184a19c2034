// Package controller owns the process-wide playback state: active
// scene selection, master/group/atmosphere mixing, live-edit overlay,
// control-mode gating, dynamic playback, and dynamic recording. It is
// the single owner of the streaming engine singleton and rebroadcasts
// the mixer's effective payload whenever any of its inputs change.
//
// Grounded on the teacher's mutex-guarded state-map service (one
// instance's lock protects everything reachable from it; helper
// goroutines report back through the same lock) generalized from
// per-cue-list playback state to a single process-wide state value.
package controller

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Kortesaas/venue-light-controller/internal/config"
	"github.com/Kortesaas/venue-light-controller/internal/events"
	"github.com/Kortesaas/venue-light-controller/internal/fixtureplan"
	"github.com/Kortesaas/venue-light-controller/internal/lighting"
	"github.com/Kortesaas/venue-light-controller/internal/mixer"
	"github.com/Kortesaas/venue-light-controller/internal/scenestore"
	"github.com/Kortesaas/venue-light-controller/internal/streaming"
)

// Reserved active_scene_id values that never correspond to a stored
// scene.
const (
	BlackoutSceneID  = "__blackout__"
	EditorLiveSceneID = "__editor_live__"
)

// ControlMode gates which operations an operator may perform versus an
// external scheduler driving the same universes.
type ControlMode string

const (
	ModePanel    ControlMode = "panel"
	ModeExternal ControlMode = "external"
)

// Payload is the controller's own alias for a universe-keyed DMX frame,
// matching streaming.Payload's shape so the two convert for free.
type Payload = map[int][512]byte

// liveEditorState snapshots what a live-edit session overlays and what
// it will restore on stop.
type liveEditorState struct {
	sceneID               string
	previousPayload       Payload
	previousActiveSceneID string
}

// dynamicPlaybackState tracks the one live frame-sequencing worker.
type dynamicPlaybackState struct {
	sceneID string
	stop    chan struct{}
	done    chan struct{}
}

// Controller is the process-wide playback state machine described by
// the state model: it owns the streaming engine, mixes every change
// through to the effective payload, and emits status events after each
// mutation. The zero value is not usable; construct with New.
type Controller struct {
	mu sync.Mutex // playback_state_lock: guards every field below except recording (guarded by recMu)

	basePayload     Payload
	activeSceneID   string
	controlMode     ControlMode
	masterDimmer    int
	hazePercent     int
	fogFlashActive  bool
	groupValues     map[string]int
	groupMuted      map[string]bool
	liveEditor      *liveEditorState
	dynamicPlayback *dynamicPlaybackState

	cfg      config.Config
	scenes   *scenestore.Store
	fixtures *fixtureplan.Metadata // may be nil: no active plan
	events   *events.Broadcaster
	engine   *streaming.Engine

	recording *recordingSession // guarded by its own recMu, see recording.go
	recMu     sync.Mutex        // recording_state_lock
}

// New constructs a Controller in its default process-start state: no
// stream, panel mode, full master dimmer, no haze/fog, and no group
// values or mutes set (every group mixes at 100%, unmuted).
func New(cfg config.Config, scenes *scenestore.Store, fixtures *fixtureplan.Metadata, bus *events.Broadcaster, engine *streaming.Engine) *Controller {
	return &Controller{
		controlMode:  ModePanel,
		masterDimmer: 100,
		groupValues:  make(map[string]int),
		groupMuted:   make(map[string]bool),
		cfg:          cfg,
		scenes:       scenes,
		fixtures:     fixtures,
		events:       bus,
		engine:       engine,
	}
}

// Status is the JSON-serializable snapshot of process state S pushed
// over the "status" event topic and returned to status-reading
// callers.
type Status struct {
	ActiveSceneID      string         `json:"active_scene_id,omitempty"`
	ControlMode        ControlMode    `json:"control_mode"`
	MasterDimmerPercent int           `json:"master_dimmer_percent"`
	HazePercent        int            `json:"haze_percent"`
	FogFlashActive     bool           `json:"fog_flash_active"`
	GroupDimmerValues  map[string]int  `json:"group_dimmer_values"`
	GroupDimmerMuted   []string        `json:"group_dimmer_muted"`
	StreamRunning      bool            `json:"stream_running"`
	LiveEditorActive   bool            `json:"live_editor_active"`
	DynamicPlaying     bool            `json:"dynamic_playing"`
	RecordingActive    bool            `json:"recording_active"`
}

// Status returns a snapshot of the current process state, safe to
// serialize and publish.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	muted := make([]string, 0, len(c.groupMuted))
	for key, isMuted := range c.groupMuted {
		if isMuted {
			muted = append(muted, key)
		}
	}
	sort.Strings(muted)

	values := make(map[string]int, len(c.groupValues))
	for k, v := range c.groupValues {
		values[k] = v
	}

	c.recMu.Lock()
	recordingActive := c.recording != nil
	c.recMu.Unlock()

	return Status{
		ActiveSceneID:       c.activeSceneID,
		ControlMode:         c.controlMode,
		MasterDimmerPercent: c.masterDimmer,
		HazePercent:         c.hazePercent,
		FogFlashActive:      c.fogFlashActive,
		GroupDimmerValues:   values,
		GroupDimmerMuted:    muted,
		StreamRunning:       c.engine.IsRunning(),
		LiveEditorActive:    c.liveEditor != nil,
		DynamicPlaying:      c.dynamicPlayback != nil,
		RecordingActive:     recordingActive,
	}
}

// publishStatus emits the current status on the "status" topic. Must
// be called without holding mu, per the ordering rule that event
// emission happens after the mutex guarding S is released.
func (c *Controller) publishStatus() {
	c.events.Publish(events.TopicStatus, c.Status())
}

// groupsLocked builds the mixer.Group list from the active fixture
// plan's layout and the controller's current per-group value/mute
// state. Must be called while holding mu.
func (c *Controller) groupsLocked() []mixer.Group {
	if c.fixtures == nil {
		return nil
	}
	layouts := c.fixtures.Groups()
	groups := make([]mixer.Group, 0, len(layouts))
	for _, layout := range layouts {
		percent, ok := c.groupValues[layout.Key]
		if !ok {
			percent = 100
		}
		addrs := make([]mixer.Address, len(layout.Addresses))
		for i, a := range layout.Addresses {
			addrs[i] = mixer.Address{Universe: a.Universe, Channel: a.Channel}
		}
		groups = append(groups, mixer.Group{
			Key:       layout.Key,
			Percent:   percent,
			Muted:     c.groupMuted[layout.Key],
			Addresses: addrs,
		})
	}
	return groups
}

func (c *Controller) atmosphereLocked() mixer.Atmosphere {
	return mixer.Atmosphere{
		HazeUniverse:     c.cfg.HazeUniverse,
		HazeChannel:      c.cfg.HazeChannel,
		HazePercent:      c.hazePercent,
		FogFlashUniverse: c.cfg.FogFlashUniverse,
		FogFlashChannel:  c.cfg.FogFlashChannel,
		FogFlashActive:   c.fogFlashActive,
	}
}

// reconcileStreamLocked mixes the current base payload and pushes it to
// the streaming engine, starting or stopping the engine as the base
// payload becomes non-empty or empty. Must be called while holding mu.
func (c *Controller) reconcileStreamLocked() error {
	var intensity mixer.IntensityAddressSet
	if c.fixtures != nil {
		intensity = c.fixtures.IntensityAddresses()
	}

	effective := mixer.Mix(c.basePayload, c.masterDimmer, c.groupsLocked(), c.atmosphereLocked(), intensity)

	if len(effective) == 0 {
		c.engine.Stop()
		return nil
	}

	if c.engine.IsRunning() {
		c.engine.Update(effective)
		return nil
	}

	if err := c.engine.Start(effective, c.cfg.LocalIP, c.cfg.NodeIP, c.cfg.DMXFps, c.cfg.PollIntervalSeconds); err != nil {
		return err
	}
	return nil
}

// stopPlaybackLocked signals and forgets the dynamic playback worker,
// if any, without waiting for it to exit (the worker observes the
// closed stop channel at its next suspension point and exits on its
// own; it never touches S after seeing the signal).
func (c *Controller) stopPlaybackLocked() {
	if c.dynamicPlayback == nil {
		return
	}
	close(c.dynamicPlayback.stop)
	c.dynamicPlayback = nil
}

// clearTransientStateLocked drops the live editor and dynamic playback
// worker. It does not touch base payload or active scene id; callers
// set those afterward per-operation.
func (c *Controller) clearTransientStateLocked() {
	c.liveEditor = nil
	c.stopPlaybackLocked()
}

// PlayScene selects scene_id as the active scene, installing its
// initial payload as the base and starting its dynamic playback worker
// if the scene is dynamic. Requires panel control mode.
func (c *Controller) PlayScene(sceneID string) error {
	scene, ok := c.scenes.Get(sceneID)
	if !ok {
		return lighting.New("controller.PlayScene", lighting.NotFound, fmt.Errorf("scene %q not found", sceneID))
	}

	c.mu.Lock()
	if c.controlMode != ModePanel {
		c.mu.Unlock()
		return lighting.New("controller.PlayScene", lighting.Conflict, fmt.Errorf("not in panel control mode"))
	}

	c.clearTransientStateLocked()
	c.basePayload = scenePayload(scene)
	c.activeSceneID = scene.ID

	if scene.Type == scenestore.Dynamic {
		c.startDynamicPlaybackLocked(scene)
	}

	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}

// Blackout installs an all-zero payload across every configured
// universe. Requires panel control mode.
func (c *Controller) Blackout() error {
	c.mu.Lock()
	if c.controlMode != ModePanel {
		c.mu.Unlock()
		return lighting.New("controller.Blackout", lighting.Conflict, fmt.Errorf("not in panel control mode"))
	}

	c.clearTransientStateLocked()
	c.fogFlashActive = false

	payload := make(Payload, c.cfg.UniverseCount)
	for u := 0; u < c.cfg.UniverseCount; u++ {
		payload[u] = [512]byte{}
	}
	c.basePayload = payload
	c.activeSceneID = BlackoutSceneID

	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.cancelRecordingIfAny("blackout")
	c.publishStatus()
	return err
}

// Stop clears all playback state and halts the stream entirely.
func (c *Controller) Stop() error {
	c.mu.Lock()
	c.clearTransientStateLocked()
	c.fogFlashActive = false
	c.basePayload = nil
	c.activeSceneID = ""

	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.cancelRecordingIfAny("stop")
	c.publishStatus()
	return err
}

// SetMasterDimmer updates the master dimmer percentage and rebroadcasts
// the effective payload.
func (c *Controller) SetMasterDimmer(percent int) error {
	if percent < 0 || percent > 100 {
		return lighting.New("controller.SetMasterDimmer", lighting.InvalidInput, fmt.Errorf("percent %d out of range 0..100", percent))
	}
	c.mu.Lock()
	c.masterDimmer = percent
	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}

// SetHaze updates the haze overlay percentage and rebroadcasts.
func (c *Controller) SetHaze(percent int) error {
	if percent < 0 || percent > 100 {
		return lighting.New("controller.SetHaze", lighting.InvalidInput, fmt.Errorf("percent %d out of range 0..100", percent))
	}
	c.mu.Lock()
	c.hazePercent = percent
	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}

// SetFogFlash updates the fog-flash overlay state and rebroadcasts.
func (c *Controller) SetFogFlash(active bool) error {
	c.mu.Lock()
	c.fogFlashActive = active
	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}

// SetGroupDimmerValue sets one group's value_percent. Requires panel
// mode and an active fixture plan.
func (c *Controller) SetGroupDimmerValue(key string, percent int) error {
	if percent < 0 || percent > 100 {
		return lighting.New("controller.SetGroupDimmerValue", lighting.InvalidInput, fmt.Errorf("percent %d out of range 0..100", percent))
	}

	c.mu.Lock()
	if err := c.requireGroupOpLocked(key); err != nil {
		c.mu.Unlock()
		return err
	}
	c.groupValues[key] = percent
	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}

// SetGroupDimmerMute mutes or unmutes one group. Requires panel mode
// and an active fixture plan.
func (c *Controller) SetGroupDimmerMute(key string, muted bool) error {
	c.mu.Lock()
	if err := c.requireGroupOpLocked(key); err != nil {
		c.mu.Unlock()
		return err
	}
	c.groupMuted[key] = muted
	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}

// requireGroupOpLocked enforces panel mode, an active fixture plan, and
// a known group key. Must be called while holding mu.
func (c *Controller) requireGroupOpLocked(key string) error {
	if c.controlMode != ModePanel {
		return lighting.New("controller", lighting.Conflict, fmt.Errorf("not in panel control mode"))
	}
	if c.fixtures == nil {
		return lighting.New("controller", lighting.Conflict, fmt.Errorf("no active fixture plan"))
	}
	for _, g := range c.fixtures.Groups() {
		if g.Key == key {
			return nil
		}
	}
	return lighting.New("controller", lighting.NotFound, fmt.Errorf("group %q not found", key))
}

// SetControlMode transitions control_mode. Entering external mode
// clears the live editor, cancels any recording, stops dynamic
// playback, zeroes fog flash, and empties the stream, per the
// invariant that external control owns the universes outright.
func (c *Controller) SetControlMode(mode ControlMode) error {
	if mode != ModePanel && mode != ModeExternal {
		return lighting.New("controller.SetControlMode", lighting.InvalidInput, fmt.Errorf("unknown control mode %q", mode))
	}

	c.mu.Lock()
	c.controlMode = mode
	var err error
	if mode == ModeExternal {
		c.clearTransientStateLocked()
		c.fogFlashActive = false
		c.basePayload = nil
		c.activeSceneID = ""
		err = c.reconcileStreamLocked()
	}
	c.mu.Unlock()

	if mode == ModeExternal {
		c.cancelRecordingIfAny("control mode switched to external")
	}
	c.publishStatus()
	return err
}

// scenePayload extracts the payload a scene installs as its base: its
// own universes for a static scene, or its first frame for a dynamic
// one (per the data model, universes is initialized from the first
// frame on load, so scene.Universes already holds it).
func scenePayload(scene scenestore.Scene) Payload {
	return universesToPayload(scene.Universes)
}

func universesToPayload(universes map[int][512]int) Payload {
	out := make(Payload, len(universes))
	for u, values := range universes {
		var bytes [512]byte
		for i, v := range values {
			bytes[i] = byte(v)
		}
		out[u] = bytes
	}
	return out
}

// sameUniverseLayout reports whether two payloads cover exactly the
// same set of universe keys, the constraint live-edit operations
// enforce against the scene they are editing.
func sameUniverseLayout(a, b map[int][512]int) bool {
	if len(a) != len(b) {
		return false
	}
	for u := range a {
		if _, ok := b[u]; !ok {
			return false
		}
	}
	return true
}
