package controller

import (
	"fmt"
	"log"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Kortesaas/venue-light-controller/internal/lighting"
	"github.com/Kortesaas/venue-light-controller/internal/scenestore"
	"github.com/Kortesaas/venue-light-controller/pkg/artnet"
)

// MaxRecordingDurationMs is the auto-stop ceiling for a dynamic
// recording session.
const MaxRecordingDurationMs = 60000

// MinRecordingDurationMs is the shortest capture accepted without the
// too_short flag.
const MinRecordingDurationMs = 1500

// recordingJoinTimeout bounds how long Stop/Cancel wait for the receive
// worker to exit before giving up on a clean join.
const recordingJoinTimeout = 500 * time.Millisecond

type recordedFrame struct {
	TimestampMs int
	Universes   map[int][512]byte
}

// recordingSession is the dynamic recording session's state, guarded by
// Controller.recMu rather than the main playback_state_lock, per the
// model's separate recording_state_lock.
type recordingSession struct {
	id              string
	targetUniverses []int
	conn            *net.UDPConn
	stopCh          chan struct{}
	doneCh          chan struct{}

	buffers        map[int][512]byte
	lastSignature  string
	framesRaw      []recordedFrame
	startMono      time.Time

	ready          bool
	rawDurationMs  int
	readyFrames    []recordedFrame
	readyDurationMs int
	tooShort       bool
	autoStopped    bool

	priorWasPanel bool
}

// RecordingStart acquires the UDP 6454 receive socket (stopping the
// streaming engine first, since the port is single-owner), remembers
// the pre-recording control mode, and launches the receive worker.
func (c *Controller) RecordingStart(targetUniverses []int) error {
	c.recMu.Lock()
	if c.recording != nil {
		c.recMu.Unlock()
		return lighting.New("controller.RecordingStart", lighting.Conflict, fmt.Errorf("a recording session is already active"))
	}
	c.recMu.Unlock()

	c.mu.Lock()
	priorWasPanel := c.controlMode == ModePanel
	c.engine.Stop()
	c.mu.Unlock()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: artnet.DefaultPort})
	if err != nil {
		c.mu.Lock()
		_ = c.reconcileStreamLocked()
		c.mu.Unlock()
		return lighting.New("controller.RecordingStart", lighting.Conflict, fmt.Errorf("UDP port %d is in use: %w", artnet.DefaultPort, err))
	}

	session := &recordingSession{
		id:              uuid.New().String(),
		targetUniverses: append([]int(nil), targetUniverses...),
		conn:            conn,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		buffers:         make(map[int][512]byte, len(targetUniverses)),
		startMono:       time.Now(),
		priorWasPanel:   priorWasPanel,
	}
	for _, u := range targetUniverses {
		session.buffers[u] = [512]byte{}
	}

	c.recMu.Lock()
	c.recording = session
	c.recMu.Unlock()

	log.Printf("🎙️ recording session %s started on universes %v", session.id, targetUniverses)
	go c.runRecording(session)
	return nil
}

func (c *Controller) runRecording(s *recordingSession) {
	defer close(s.doneCh)
	defer func() { _ = s.conn.Close() }()

	targets := make(map[int]bool, len(s.targetUniverses))
	for _, u := range s.targetUniverses {
		targets[u] = true
	}

	buf := make([]byte, 2048)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		elapsed := time.Since(s.startMono).Milliseconds()
		if elapsed >= MaxRecordingDurationMs {
			c.autoStopRecording(s)
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		frame, err := artnet.ParseDMXPacket(buf[:n])
		if err != nil || !targets[frame.Universe] {
			continue
		}

		accumulator := s.buffers[frame.Universe]
		copy(accumulator[:frame.Length], frame.Channels[:frame.Length])
		s.buffers[frame.Universe] = accumulator
		sig := recordingSignature(s.buffers, s.targetUniverses)
		if sig == s.lastSignature {
			continue
		}
		s.lastSignature = sig
		s.framesRaw = append(s.framesRaw, recordedFrame{
			TimestampMs: int(time.Since(s.startMono).Milliseconds()),
			Universes:   cloneByteUniverses(s.buffers),
		})
	}
}

func (c *Controller) autoStopRecording(s *recordingSession) {
	c.recMu.Lock()
	if c.recording == s && !s.ready {
		s.autoStopped = true
		c.finalizeLocked(s, 0)
	}
	c.recMu.Unlock()
}

// recordingSignature produces a stable string key for the current
// accumulator state, used to detect changed frames.
func recordingSignature(buffers map[int][512]byte, universes []int) string {
	out := make([]byte, 0, len(universes)*513)
	for _, u := range universes {
		values := buffers[u]
		out = append(out, byte(u), byte(u>>8))
		out = append(out, values[:]...)
	}
	return string(out)
}

func cloneByteUniverses(src map[int][512]byte) map[int][512]byte {
	out := make(map[int][512]byte, len(src))
	for u, v := range src {
		out[u] = v
	}
	return out
}

// RecordingReady describes the finalized, not-yet-saved state of a
// recording session after Stop.
type RecordingReady struct {
	ID          string
	DurationMs  int
	FrameCount  int
	TooShort    bool
	AutoStopped bool
}

// RecordingStop finalizes the capture: it stops the receive worker
// (bounded join), normalizes frames_raw, and optionally quantizes the
// duration to the nearest 4-beat bar at bpm. Calling Stop again on an
// already-ready session re-quantizes from the preserved raw capture.
func (c *Controller) RecordingStop(bpm float64) (RecordingReady, error) {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	s := c.recording
	if s == nil {
		return RecordingReady{}, lighting.New("controller.RecordingStop", lighting.Conflict, fmt.Errorf("no recording session is active"))
	}

	if !s.ready {
		close(s.stopCh)
		select {
		case <-s.doneCh:
		case <-time.After(recordingJoinTimeout):
		}
	}

	c.finalizeLocked(s, bpm)

	return RecordingReady{
		ID:          s.id,
		DurationMs:  s.readyDurationMs,
		FrameCount:  len(s.readyFrames),
		TooShort:    s.tooShort,
		AutoStopped: s.autoStopped,
	}, nil
}

// finalizeLocked normalizes frames_raw and applies bpm quantization.
// Must be called while holding recMu.
func (c *Controller) finalizeLocked(s *recordingSession, bpm float64) {
	if !s.ready {
		s.rawDurationMs = int(time.Since(s.startMono).Milliseconds())
		s.ready = true
	}

	frames := normalizeRecordedFrames(s.framesRaw, s.rawDurationMs)
	duration := s.rawDurationMs
	s.tooShort = duration < MinRecordingDurationMs

	if bpm > 0 {
		barMs := int(60000 * 4 / bpm)
		if barMs > 0 {
			bars := roundDiv(duration, barMs)
			if bars < 1 {
				bars = 1
			}
			quantized := bars * barMs
			if quantized > duration {
				quantized = duration
			}
			frames = trimFramesToDuration(frames, quantized)
			duration = quantized
		}
	}

	s.readyFrames = frames
	s.readyDurationMs = duration
}

func roundDiv(value, div int) int {
	if div == 0 {
		return 0
	}
	return int((float64(value)/float64(div))+0.5)
}

// normalizeRecordedFrames sorts by timestamp, zeroes the first frame's
// timestamp, deduplicates consecutive frames with identical universe
// state (except a frame that sits exactly on durationMs), and appends
// a terminal frame at durationMs replicating the last state.
func normalizeRecordedFrames(raw []recordedFrame, durationMs int) []recordedFrame {
	if len(raw) == 0 {
		return nil
	}

	frames := append([]recordedFrame(nil), raw...)
	sort.Slice(frames, func(i, j int) bool { return frames[i].TimestampMs < frames[j].TimestampMs })
	frames[0].TimestampMs = 0

	deduped := frames[:1]
	for _, f := range frames[1:] {
		last := deduped[len(deduped)-1]
		if f.TimestampMs != durationMs && recordingSignature(f.Universes, universeKeysOf(f.Universes)) == recordingSignature(last.Universes, universeKeysOf(last.Universes)) {
			continue
		}
		deduped = append(deduped, f)
	}

	last := deduped[len(deduped)-1]
	if last.TimestampMs != durationMs {
		deduped = append(deduped, recordedFrame{TimestampMs: durationMs, Universes: last.Universes})
	}
	return deduped
}

func universeKeysOf(universes map[int][512]byte) []int {
	keys := make([]int, 0, len(universes))
	for u := range universes {
		keys = append(keys, u)
	}
	sort.Ints(keys)
	return keys
}

// trimFramesToDuration drops frames past durationMs and appends a
// synthetic trailing frame at durationMs replicating the last frame at
// or before it.
func trimFramesToDuration(frames []recordedFrame, durationMs int) []recordedFrame {
	var kept []recordedFrame
	for _, f := range frames {
		if f.TimestampMs <= durationMs {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, frames[0])
	}
	last := kept[len(kept)-1]
	if last.TimestampMs != durationMs {
		kept = append(kept, recordedFrame{TimestampMs: durationMs, Universes: last.Universes})
	}
	return kept
}

// RecordingSave creates a new dynamic scene from the ready frames and
// restores the pre-recording stream state. Fails if fewer than two
// frames were captured or the (possibly quantized) duration is below
// the minimum.
func (c *Controller) RecordingSave(name, description string) (scenestore.Scene, error) {
	c.recMu.Lock()
	s := c.recording
	if s == nil || !s.ready {
		c.recMu.Unlock()
		return scenestore.Scene{}, lighting.New("controller.RecordingSave", lighting.Conflict, fmt.Errorf("no finalized recording session is ready to save"))
	}
	if len(s.readyFrames) < 2 {
		c.recMu.Unlock()
		return scenestore.Scene{}, lighting.New("controller.RecordingSave", lighting.Invariant, fmt.Errorf("recording has fewer than 2 frames"))
	}
	if s.readyDurationMs < MinRecordingDurationMs {
		c.recMu.Unlock()
		return scenestore.Scene{}, lighting.New("controller.RecordingSave", lighting.Invariant, fmt.Errorf("recording duration %dms is below the %dms minimum", s.readyDurationMs, MinRecordingDurationMs))
	}

	storeFrames := make([]scenestore.Frame, len(s.readyFrames))
	for i, f := range s.readyFrames {
		storeFrames[i] = scenestore.Frame{TimestampMs: f.TimestampMs, Universes: bytesToIntUniverses(f.Universes)}
	}
	duration := s.readyDurationMs
	c.recMu.Unlock()

	scene, err := c.scenes.Save(scenestore.Scene{
		Name:         name,
		Description:  description,
		Type:         scenestore.Dynamic,
		DurationMs:   duration,
		PlaybackMode: scenestore.Loop,
		Frames:       storeFrames,
	})
	if err != nil {
		c.restoreAfterRecording(s)
		return scenestore.Scene{}, err
	}

	c.recMu.Lock()
	c.recording = nil
	c.recMu.Unlock()
	c.restoreAfterRecording(s)
	c.publishStatus()
	return scene, nil
}

// RecordingCancel stops the worker (if still running) and restores the
// pre-recording stream state unconditionally.
func (c *Controller) RecordingCancel() error {
	c.recMu.Lock()
	s := c.recording
	if s == nil {
		c.recMu.Unlock()
		return lighting.New("controller.RecordingCancel", lighting.Conflict, fmt.Errorf("no recording session is active"))
	}
	if !s.ready {
		close(s.stopCh)
		select {
		case <-s.doneCh:
		case <-time.After(recordingJoinTimeout):
		}
	}
	c.recording = nil
	c.recMu.Unlock()

	c.restoreAfterRecording(s)
	c.publishStatus()
	return nil
}

// restoreAfterRecording resumes streaming from the controller's
// untouched base payload, per the boundary behavior that a snapshot
// recording restores the prior base payload and active_scene_id iff
// the prior control mode was panel. In external mode, RecordingStart
// never paused anything the operator owns, so no restore is attempted.
func (c *Controller) restoreAfterRecording(s *recordingSession) {
	if !s.priorWasPanel {
		return
	}
	c.mu.Lock()
	_ = c.reconcileStreamLocked()
	c.mu.Unlock()
}

// cancelRecordingIfAny cancels an in-flight recording session as a side
// effect of an unrelated state transition (blackout, stop, or
// control-mode change to external), per the invariant that at most one
// recording session exists and those transitions must not leave one
// dangling.
func (c *Controller) cancelRecordingIfAny(reason string) {
	c.recMu.Lock()
	s := c.recording
	if s == nil {
		c.recMu.Unlock()
		return
	}
	c.recording = nil
	if !s.ready {
		close(s.stopCh)
	}
	c.recMu.Unlock()

	if !s.ready {
		select {
		case <-s.doneCh:
		case <-time.After(recordingJoinTimeout):
		}
	}
	log.Printf("🎙️ recording session %s cancelled: %s", s.id, reason)
}

func bytesToIntUniverses(src map[int][512]byte) map[int][512]int {
	out := make(map[int][512]int, len(src))
	for u, values := range src {
		var ints [512]int
		for i, v := range values {
			ints[i] = int(v)
		}
		out[u] = ints
	}
	return out
}
