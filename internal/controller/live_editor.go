package controller

import (
	"fmt"

	"github.com/Kortesaas/venue-light-controller/internal/lighting"
	"github.com/Kortesaas/venue-light-controller/internal/scenestore"
)

// LiveEditorStart opens a transient overlay on top of a static scene:
// it snapshots the current base payload and active scene id so
// LiveEditorStop can restore them, then installs universes as the new
// base payload. Requires panel mode, a static scene, a universe layout
// matching the scene's own, and no live editor already active.
func (c *Controller) LiveEditorStart(sceneID string, universes map[int][512]int) error {
	scene, ok := c.scenes.Get(sceneID)
	if !ok {
		return lighting.New("controller.LiveEditorStart", lighting.NotFound, fmt.Errorf("scene %q not found", sceneID))
	}
	if scene.Type != scenestore.Static {
		return lighting.New("controller.LiveEditorStart", lighting.InvalidInput, fmt.Errorf("scene %q is not static", sceneID))
	}
	if !sameUniverseLayout(universes, scene.Universes) {
		return lighting.New("controller.LiveEditorStart", lighting.InvalidInput, fmt.Errorf("universe layout does not match scene %q", sceneID))
	}

	c.mu.Lock()
	if c.liveEditor != nil {
		c.mu.Unlock()
		return lighting.New("controller.LiveEditorStart", lighting.Conflict, fmt.Errorf("a live editor session is already active"))
	}
	if c.controlMode != ModePanel {
		c.mu.Unlock()
		return lighting.New("controller.LiveEditorStart", lighting.Conflict, fmt.Errorf("not in panel control mode"))
	}

	c.stopPlaybackLocked()
	c.liveEditor = &liveEditorState{
		sceneID:               sceneID,
		previousPayload:       c.basePayload,
		previousActiveSceneID: c.activeSceneID,
	}
	c.basePayload = universesToPayload(universes)
	c.activeSceneID = EditorLiveSceneID

	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}

// LiveEditorUpdate replaces the overlay payload of an already-active
// live editor session, enforcing the same universe-layout constraint
// against the scene it was opened against.
func (c *Controller) LiveEditorUpdate(universes map[int][512]int) error {
	c.mu.Lock()
	if c.liveEditor == nil {
		c.mu.Unlock()
		return lighting.New("controller.LiveEditorUpdate", lighting.Conflict, fmt.Errorf("no live editor session is active"))
	}
	sceneID := c.liveEditor.sceneID
	c.mu.Unlock()

	scene, ok := c.scenes.Get(sceneID)
	if !ok {
		return lighting.New("controller.LiveEditorUpdate", lighting.NotFound, fmt.Errorf("scene %q not found", sceneID))
	}
	if !sameUniverseLayout(universes, scene.Universes) {
		return lighting.New("controller.LiveEditorUpdate", lighting.InvalidInput, fmt.Errorf("universe layout does not match scene %q", sceneID))
	}

	c.mu.Lock()
	if c.liveEditor == nil || c.liveEditor.sceneID != sceneID {
		c.mu.Unlock()
		return lighting.New("controller.LiveEditorUpdate", lighting.Conflict, fmt.Errorf("live editor session changed underneath the update"))
	}
	c.basePayload = universesToPayload(universes)
	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}

// LiveEditorStop ends the active live editor session. When
// restorePrevious is true, base_payload and active_scene_id revert to
// their pre-session snapshot; otherwise they are left installed under
// the reserved editor-live scene id.
func (c *Controller) LiveEditorStop(restorePrevious bool) error {
	c.mu.Lock()
	if c.liveEditor == nil {
		c.mu.Unlock()
		return lighting.New("controller.LiveEditorStop", lighting.Conflict, fmt.Errorf("no live editor session is active"))
	}
	snapshot := c.liveEditor
	c.liveEditor = nil

	if restorePrevious {
		c.basePayload = snapshot.previousPayload
		c.activeSceneID = snapshot.previousActiveSceneID
	}

	err := c.reconcileStreamLocked()
	c.mu.Unlock()

	c.publishStatus()
	return err
}
