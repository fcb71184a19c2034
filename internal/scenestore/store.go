// Package scenestore persists static and dynamic scenes as one JSON file
// per scene plus an order side-file, the same directory-of-files layout
// the prior Python implementation used, with dynamic frames written in
// a compact delta-coded form.
package scenestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/Kortesaas/venue-light-controller/internal/lighting"
)

const (
	dmxChannels = 512
	dmxMin      = 0
	dmxMax      = 255
	orderFile   = "_order.json"
)

// SceneType is the closed enum of scene kinds. "animated" is accepted as
// a legacy synonym for Dynamic on read but is never written.
type SceneType string

const (
	Static  SceneType = "static"
	Dynamic SceneType = "dynamic"
)

// PlaybackMode controls how a dynamic scene's frame sequence repeats.
type PlaybackMode string

const (
	Loop PlaybackMode = "loop"
	Once PlaybackMode = "once"
)

// Style is purely cosmetic metadata: validated against closed
// enumerations but never interpreted by the core.
type Style struct {
	Color    string   `json:"color,omitempty"`
	Variant  string   `json:"variant,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Emphasis []string `json:"emphasis,omitempty"`
}

var validStyleColors = map[string]bool{
	"": true, "red": true, "orange": true, "amber": true, "green": true,
	"blue": true, "purple": true, "pink": true, "white": true, "neutral": true,
}

var validStyleVariants = map[string]bool{
	"": true, "solid": true, "outline": true, "ghost": true,
}

var validStyleEmphasis = map[string]bool{
	"favorite": true, "new": true, "caution": true,
}

// Validate reports an InvalidInput error if any Style field is outside
// its closed enumeration.
func (s Style) Validate() error {
	if !validStyleColors[s.Color] {
		return lighting.Newf("Style.Validate", lighting.InvalidInput, "unknown style color %q", s.Color)
	}
	if !validStyleVariants[s.Variant] {
		return lighting.Newf("Style.Validate", lighting.InvalidInput, "unknown style variant %q", s.Variant)
	}
	for _, tag := range s.Emphasis {
		if !validStyleEmphasis[tag] {
			return lighting.Newf("Style.Validate", lighting.InvalidInput, "unknown emphasis tag %q", tag)
		}
	}
	return nil
}

// Frame is one time-indexed keyframe of a dynamic scene's universes.
type Frame struct {
	TimestampMs int
	Universes   map[int][512]int
}

// Scene is the in-memory representation of a stored scene.
type Scene struct {
	ID          string
	Name        string
	Description string
	CreatedAt   *time.Time

	Type      SceneType
	Universes map[int][512]int // static payload, or dynamic's initial/current keys

	DurationMs   int
	PlaybackMode PlaybackMode
	Frames       []Frame // dynamic only, ordered by TimestampMs

	Style *Style
}

// persistedScene is the on-disk JSON shape, matching the config table's
// documented static/dynamic persisted forms.
type persistedScene struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Type        string             `json:"type"`
	Universes   map[string][]int   `json:"universes,omitempty"`
	CreatedAt   *time.Time         `json:"created_at,omitempty"`
	Style       *Style             `json:"style,omitempty"`

	DurationMs            int              `json:"duration_ms,omitempty"`
	PlaybackMode          string           `json:"playback_mode,omitempty"`
	AnimatedFramesCompact *DeltaV1         `json:"animated_frames_compact,omitempty"`
	AnimatedFrames        []persistedFrame `json:"animated_frames,omitempty"`
}

// persistedFrame is the legacy uncompressed on-disk shape for one
// dynamic-scene frame, predating the delta-v1 encoding.
type persistedFrame struct {
	TimestampMs int              `json:"timestamp_ms"`
	Universes   map[string][]int `json:"universes"`
}

// Store is a directory-backed scene store. The zero value is not usable;
// construct with New.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, lighting.New("scenestore.New", lighting.PersistenceFailure, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) scenePath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) orderPath() string {
	return filepath.Join(s.dir, orderFile)
}

// List returns every stored scene in persisted order, normalizing the
// order file as a side effect (per §4.5: normalized on every
// list/save/delete).
func (s *Store) List() ([]Scene, error) {
	ids, err := s.currentSceneIDs()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Scene, len(ids))
	for _, id := range ids {
		scene, err := s.readScene(id)
		if err != nil {
			continue // skip invalid scene files, matching the prior implementation
		}
		byID[id] = scene
	}

	order, err := s.normalizeOrder(ids)
	if err != nil {
		return nil, err
	}

	scenes := make([]Scene, 0, len(byID))
	seen := make(map[string]bool, len(byID))
	for _, id := range order {
		if scene, ok := byID[id]; ok {
			scenes = append(scenes, scene)
			seen[id] = true
		}
	}
	// Defensive: include any scene missing from the (just-normalized)
	// order, sorted by id.
	var stragglers []string
	for id := range byID {
		if !seen[id] {
			stragglers = append(stragglers, id)
		}
	}
	sort.Strings(stragglers)
	for _, id := range stragglers {
		scenes = append(scenes, byID[id])
	}

	return scenes, nil
}

// Get returns the scene with the given id, or ok=false if absent or
// unreadable.
func (s *Store) Get(id string) (Scene, bool) {
	scene, err := s.readScene(id)
	if err != nil {
		return Scene{}, false
	}
	return scene, true
}

// Save validates and persists scene, assigning it a fresh slug id if
// scene.ID is empty, and adds it to the order file if it is new. Name
// uniqueness is enforced case-insensitively, excluding the scene's own
// id.
func (s *Store) Save(scene Scene) (Scene, error) {
	if strings.TrimSpace(scene.Name) == "" {
		return Scene{}, lighting.New("scenestore.Save", lighting.InvalidInput, fmt.Errorf("name must not be empty"))
	}

	ids, err := s.currentSceneIDs()
	if err != nil {
		return Scene{}, err
	}

	if scene.ID == "" {
		scene.ID, err = s.generateID(scene.Name, ids)
		if err != nil {
			return Scene{}, err
		}
	}

	if err := s.checkNameUnique(scene.Name, scene.ID, ids); err != nil {
		return Scene{}, err
	}

	if err := validateScene(&scene); err != nil {
		return Scene{}, err
	}

	_, existed := s.Get(scene.ID)

	persisted := toPersisted(scene)
	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return Scene{}, lighting.New("scenestore.Save", lighting.PersistenceFailure, err)
	}
	if err := renameio.WriteFile(s.scenePath(scene.ID), data, 0o644); err != nil {
		return Scene{}, lighting.New("scenestore.Save", lighting.PersistenceFailure, err)
	}

	if !existed {
		order, err := s.normalizeOrder(nil)
		if err != nil {
			return Scene{}, err
		}
		found := false
		for _, id := range order {
			if id == scene.ID {
				found = true
				break
			}
		}
		if !found {
			order = append(order, scene.ID)
			if err := s.saveOrder(order); err != nil {
				return Scene{}, err
			}
		}
	}

	return scene, nil
}

// Delete removes a scene file and drops it from the order file. Deleting
// a non-existent id is not an error.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.scenePath(id))
	if err != nil && !os.IsNotExist(err) {
		return lighting.New("scenestore.Delete", lighting.PersistenceFailure, err)
	}

	order, err := s.normalizeOrder(nil)
	if err != nil {
		return err
	}
	filtered := order[:0]
	for _, existingID := range order {
		if existingID != id {
			filtered = append(filtered, existingID)
		}
	}
	return s.saveOrder(filtered)
}

// SetOrder replaces the persisted scene order, normalizing it against
// the current set of scene ids: ids present in ids retain their
// first-occurrence order, unknown ids are dropped, and ids missing from
// the input are appended in id-sorted order.
func (s *Store) SetOrder(ids []string) ([]string, error) {
	existing, err := s.currentSceneIDs()
	if err != nil {
		return nil, err
	}
	existingSet := make(map[string]bool, len(existing))
	for _, id := range existing {
		existingSet[id] = true
	}

	ordered := make([]string, 0, len(existing))
	seen := make(map[string]bool, len(existing))
	for _, id := range ids {
		if existingSet[id] && !seen[id] {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}
	remaining := make([]string, 0)
	for _, id := range existing {
		if !seen[id] {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	ordered = append(ordered, remaining...)

	if err := s.saveOrder(ordered); err != nil {
		return nil, err
	}
	return ordered, nil
}

func (s *Store) currentSceneIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, lighting.New("scenestore", lighting.PersistenceFailure, err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || name == orderFile {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) loadOrder() []string {
	data, err := os.ReadFile(s.orderPath())
	if err != nil {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil
	}
	return ids
}

func (s *Store) saveOrder(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return lighting.New("scenestore.saveOrder", lighting.PersistenceFailure, err)
	}
	if err := renameio.WriteFile(s.orderPath(), data, 0o644); err != nil {
		return lighting.New("scenestore.saveOrder", lighting.PersistenceFailure, err)
	}
	return nil
}

// normalizeOrder reconciles the persisted order against existing, the
// current scene ids (fetched fresh if nil), and writes the result back.
func (s *Store) normalizeOrder(existing []string) ([]string, error) {
	var err error
	if existing == nil {
		existing, err = s.currentSceneIDs()
		if err != nil {
			return nil, err
		}
	}
	existingSet := make(map[string]bool, len(existing))
	for _, id := range existing {
		existingSet[id] = true
	}

	order := make([]string, 0, len(existing))
	for _, id := range s.loadOrder() {
		if existingSet[id] {
			order = append(order, id)
		}
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	for _, id := range existing {
		if !seen[id] {
			order = append(order, id)
		}
	}

	if err := s.saveOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) readScene(id string) (Scene, error) {
	data, err := os.ReadFile(s.scenePath(id))
	if err != nil {
		return Scene{}, err
	}
	var persisted persistedScene
	if err := json.Unmarshal(data, &persisted); err != nil {
		return Scene{}, err
	}
	return fromPersisted(persisted)
}

func (s *Store) checkNameUnique(name, ignoreID string, ids []string) error {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, id := range ids {
		if id == ignoreID {
			continue
		}
		scene, err := s.readScene(id)
		if err != nil {
			continue
		}
		if strings.ToLower(scene.Name) == lower {
			return lighting.Newf("scenestore.Save", lighting.Conflict, "scene name %q already in use", name)
		}
	}
	return nil
}

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := nonSlugRun.ReplaceAllString(strings.ToLower(name), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return "scene"
	}
	return slug
}

func (s *Store) generateID(name string, existingIDs []string) (string, error) {
	existing := make(map[string]bool, len(existingIDs))
	for _, id := range existingIDs {
		existing[id] = true
	}

	base := slugify(name)
	if !existing[base] {
		return base, nil
	}
	for i := 2; i < 10000; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !existing[candidate] {
			return candidate, nil
		}
	}
	return "", lighting.New("scenestore.generateID", lighting.Invariant, fmt.Errorf("could not find a unique id for %q", name))
}

func validateScene(scene *Scene) error {
	if scene.Type == "" {
		scene.Type = Static
	}

	for universe, values := range scene.Universes {
		if err := validateChannels(universe, values[:]); err != nil {
			return err
		}
	}

	if scene.Style != nil {
		if err := scene.Style.Validate(); err != nil {
			return err
		}
	}

	if scene.Type != Dynamic {
		return nil
	}

	if scene.DurationMs < 1 {
		return lighting.New("scenestore.Save", lighting.Invariant, fmt.Errorf("dynamic scene duration_ms must be >= 1"))
	}
	if scene.PlaybackMode == "" {
		scene.PlaybackMode = Loop
	}
	if scene.PlaybackMode != Loop && scene.PlaybackMode != Once {
		return lighting.New("scenestore.Save", lighting.InvalidInput, fmt.Errorf("unknown playback_mode %q", scene.PlaybackMode))
	}
	if len(scene.Frames) == 0 {
		return lighting.New("scenestore.Save", lighting.Invariant, fmt.Errorf("dynamic scene must have at least one frame"))
	}

	frameKeys := universeKeySet(scene.Frames[0].Universes)
	if len(scene.Universes) == 0 {
		scene.Universes = scene.Frames[0].Universes
	} else if !frameKeys.equal(universeKeySet(scene.Universes)) {
		return lighting.New("scenestore.Save", lighting.Invariant, fmt.Errorf("frame universe keys must equal scene universe keys"))
	}

	prevTimestamp := -1
	for i, frame := range scene.Frames {
		if i == 0 && frame.TimestampMs != 0 {
			return lighting.New("scenestore.Save", lighting.Invariant, fmt.Errorf("frame 0 must have timestamp_ms == 0"))
		}
		if frame.TimestampMs < prevTimestamp {
			return lighting.New("scenestore.Save", lighting.Invariant, fmt.Errorf("frame timestamps must be non-decreasing"))
		}
		prevTimestamp = frame.TimestampMs

		if !universeKeySet(frame.Universes).equal(frameKeys) {
			return lighting.New("scenestore.Save", lighting.Invariant, fmt.Errorf("all dynamic frames must share the same universe keys"))
		}
		for universe, values := range frame.Universes {
			if err := validateChannels(universe, values[:]); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateChannels(universe int, values []int) error {
	if len(values) != dmxChannels {
		return lighting.Newf("scenestore.Save", lighting.Invariant, "universe %d must have exactly %d values, got %d", universe, dmxChannels, len(values))
	}
	for _, v := range values {
		if v < dmxMin || v > dmxMax {
			return lighting.Newf("scenestore.Save", lighting.Invariant, "universe %d has DMX value out of range: %d", universe, v)
		}
	}
	return nil
}

type keySet map[int]bool

func universeKeySet(universes map[int][512]int) keySet {
	s := make(keySet, len(universes))
	for u := range universes {
		s[u] = true
	}
	return s
}

func (a keySet) equal(b keySet) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func universeKey(u int) string {
	return strconv.Itoa(u)
}

func universeFromKey(key string) int {
	u, _ := strconv.Atoi(key)
	return u
}

func toPersisted(scene Scene) persistedScene {
	p := persistedScene{
		ID:          scene.ID,
		Name:        scene.Name,
		Description: scene.Description,
		Type:        string(scene.Type),
		CreatedAt:   scene.CreatedAt,
		Style:       scene.Style,
	}

	if scene.Type == Dynamic {
		p.DurationMs = scene.DurationMs
		p.PlaybackMode = string(scene.PlaybackMode)
		delta := EncodeFrames(scene.Frames)
		p.AnimatedFramesCompact = &delta
		return p
	}

	p.Universes = toRawUniverses(scene.Universes)
	return p
}

func fromPersisted(p persistedScene) (Scene, error) {
	scene := Scene{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		Style:       p.Style,
		Type:        normalizeSceneType(p.Type),
	}

	if scene.Type == Dynamic {
		scene.DurationMs = p.DurationMs
		scene.PlaybackMode = PlaybackMode(p.PlaybackMode)
		if scene.PlaybackMode == "" {
			scene.PlaybackMode = Loop
		}

		switch {
		case p.AnimatedFramesCompact != nil:
			scene.Frames = DecodeDeltaV1(*p.AnimatedFramesCompact)
		case len(p.AnimatedFrames) > 0:
			scene.Frames = framesFromPersisted(p.AnimatedFrames)
		default:
			return Scene{}, fmt.Errorf("dynamic scene %q missing animated_frames_compact", p.ID)
		}

		if len(scene.Frames) > 0 {
			scene.Universes = scene.Frames[0].Universes
		}
		return scene, nil
	}

	scene.Universes = fromRawUniverses(p.Universes)
	return scene, nil
}

// normalizeSceneType accepts the legacy "animated" spelling as a
// synonym for "dynamic" on read.
func normalizeSceneType(t string) SceneType {
	if t == "animated" || t == string(Dynamic) {
		return Dynamic
	}
	return Static
}

func toRawUniverses(universes map[int][512]int) map[string][]int {
	out := make(map[string][]int, len(universes))
	for u, values := range universes {
		out[universeKey(u)] = values[:]
	}
	return out
}

// framesFromPersisted reconstructs a legacy uncompressed dynamic
// scene's frames, predating the delta-v1 encoding.
func framesFromPersisted(raw []persistedFrame) []Frame {
	frames := make([]Frame, 0, len(raw))
	for _, pf := range raw {
		frames = append(frames, Frame{
			TimestampMs: pf.TimestampMs,
			Universes:   fromRawUniverses(pf.Universes),
		})
	}
	return frames
}

func fromRawUniverses(raw map[string][]int) map[int][512]int {
	out := make(map[int][512]int, len(raw))
	for key, values := range raw {
		var arr [512]int
		copy(arr[:], values)
		out[universeFromKey(key)] = arr
	}
	return out
}
