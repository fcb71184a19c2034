package controller

import (
	"sort"
	"time"

	"github.com/Kortesaas/venue-light-controller/internal/scenestore"
)

// minWorkerTick bounds how long the dynamic playback worker ever
// sleeps in one iteration, so a stop signal is never missed for longer
// than this even when the next frame boundary is far away.
const minWorkerTick = 50 * time.Millisecond

// startDynamicPlaybackLocked launches the frame-sequencing worker for a
// dynamic scene's already-installed base payload. Must be called while
// holding mu; replaces any previous dynamicPlayback (the caller is
// expected to have already stopped it via clearTransientStateLocked).
func (c *Controller) startDynamicPlaybackLocked(scene scenestore.Scene) {
	frames := append([]scenestore.Frame(nil), scene.Frames...)
	sort.Slice(frames, func(i, j int) bool { return frames[i].TimestampMs < frames[j].TimestampMs })

	state := &dynamicPlaybackState{
		sceneID: scene.ID,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.dynamicPlayback = state

	loop := scene.PlaybackMode != scenestore.Once
	durationMs := scene.DurationMs

	go c.runDynamicPlayback(state, frames, durationMs, loop)
}

// runDynamicPlayback is the frame-sequencing worker body: it tracks
// elapsed time since its own start, finds the latest frame whose
// timestamp has passed, and pushes that frame's universes into the
// base payload without emitting a status event (playback ticks are not
// operator-visible state changes).
func (c *Controller) runDynamicPlayback(state *dynamicPlaybackState, frames []scenestore.Frame, durationMs int, loop bool) {
	defer close(state.done)

	if len(frames) == 0 || durationMs <= 0 {
		return
	}

	start := time.Now()
	lastIndex := -1

	for {
		select {
		case <-state.stop:
			return
		default:
		}

		elapsed := time.Since(start).Milliseconds()
		if elapsed >= int64(durationMs) {
			if !loop {
				c.stopFromPlaybackEnd(state)
				return
			}
			wrapped := elapsed % int64(durationMs)
			start = time.Now().Add(-time.Duration(wrapped) * time.Millisecond)
			elapsed = wrapped
		}

		index := frameIndexAt(frames, elapsed)
		if index != lastIndex {
			lastIndex = index
			c.applyPlaybackFrameLocked(state, frames[index])
		}

		sleep := minWorkerTick
		if next := nextFrameBoundary(frames, elapsed, durationMs); next >= 0 {
			untilNext := time.Duration(next-elapsed) * time.Millisecond
			if untilNext < sleep {
				sleep = untilNext
			}
		}
		if sleep <= 0 {
			sleep = time.Millisecond
		}

		select {
		case <-state.stop:
			return
		case <-time.After(sleep):
		}
	}
}

// applyPlaybackFrameLocked installs one frame's universes as the base
// payload and rebroadcasts, guarding against a worker that outlived a
// PlayScene/Stop race by checking it is still the registered worker.
func (c *Controller) applyPlaybackFrameLocked(state *dynamicPlaybackState, frame scenestore.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dynamicPlayback != state {
		return
	}
	c.basePayload = universesToPayload(frame.Universes)
	_ = c.reconcileStreamLocked()
}

// stopFromPlaybackEnd requests a normal stop when a once-mode scene
// reaches the end of its frame sequence, going through Stop so the
// same invariants (clearing fog flash, halting the stream) apply.
func (c *Controller) stopFromPlaybackEnd(state *dynamicPlaybackState) {
	c.mu.Lock()
	stillCurrent := c.dynamicPlayback == state
	c.mu.Unlock()

	if stillCurrent {
		_ = c.Stop()
	}
}

// frameIndexAt returns the index of the largest frame whose
// timestamp_ms <= elapsed.
func frameIndexAt(frames []scenestore.Frame, elapsedMs int64) int {
	index := 0
	for i, f := range frames {
		if int64(f.TimestampMs) <= elapsedMs {
			index = i
		} else {
			break
		}
	}
	return index
}

// nextFrameBoundary returns the timestamp_ms of the next frame after
// elapsed, or durationMs if elapsed is within the final frame, or -1 if
// there is nothing to wait for.
func nextFrameBoundary(frames []scenestore.Frame, elapsedMs int64, durationMs int) int64 {
	for _, f := range frames {
		if int64(f.TimestampMs) > elapsedMs {
			return int64(f.TimestampMs)
		}
	}
	if int64(durationMs) > elapsedMs {
		return int64(durationMs)
	}
	return -1
}
