package scenestore

// DeltaV1 is the on-disk compact form for a dynamic scene's frames: the
// first frame stored in full as Initial, every subsequent frame storing
// only the channels that changed since the previous reconstructed
// state.
type DeltaV1 struct {
	Encoding string                `json:"encoding"`
	Initial  map[string][512]int   `json:"initial"`
	Frames   []DeltaFrame          `json:"frames"`
}

// DeltaFrame is one non-initial frame in the delta-v1 encoding.
type DeltaFrame struct {
	TimestampMs int                  `json:"timestamp_ms"`
	Changes     map[string][][2]int `json:"changes,omitempty"`
}

// EncodingDeltaV1 is the only dynamic-frame encoding this store writes.
const EncodingDeltaV1 = "delta-v1"

// EncodeFrames compresses an ordered, non-empty frame sequence into its
// delta-v1 form. frames[0] becomes Initial verbatim; each later frame
// stores only the (channel, value) pairs that differ from the previous
// frame's reconstructed state.
func EncodeFrames(frames []Frame) DeltaV1 {
	initial := make(map[string][512]int, len(frames[0].Universes))
	for u, values := range frames[0].Universes {
		initial[universeKey(u)] = values
	}

	encoded := DeltaV1{
		Encoding: EncodingDeltaV1,
		Initial:  initial,
		Frames:   make([]DeltaFrame, 0, len(frames)-1),
	}

	previous := frames[0].Universes
	for _, frame := range frames[1:] {
		changes := make(map[string][][2]int)
		for u, values := range frame.Universes {
			prevValues := previous[u]
			var diffs [][2]int
			for ch := 0; ch < 512; ch++ {
				if prevValues[ch] != values[ch] {
					diffs = append(diffs, [2]int{ch, values[ch]})
				}
			}
			if len(diffs) > 0 {
				changes[universeKey(u)] = diffs
			}
		}

		df := DeltaFrame{TimestampMs: frame.TimestampMs}
		if len(changes) > 0 {
			df.Changes = changes
		}
		encoded.Frames = append(encoded.Frames, df)

		previous = frame.Universes
	}

	return encoded
}

// DecodeDeltaV1 reconstructs the full frame sequence from its delta-v1
// form by accumulating each frame's diffs onto the previous
// reconstructed state.
func DecodeDeltaV1(d DeltaV1) []Frame {
	current := make(map[int][512]int, len(d.Initial))
	for key, values := range d.Initial {
		current[universeFromKey(key)] = values
	}

	frames := make([]Frame, 0, len(d.Frames)+1)
	frames = append(frames, Frame{TimestampMs: 0, Universes: cloneUniverses(current)})

	for _, df := range d.Frames {
		for key, diffs := range df.Changes {
			u := universeFromKey(key)
			values := current[u]
			for _, pair := range diffs {
				channel, value := pair[0], pair[1]
				if channel >= 0 && channel < 512 {
					values[channel] = value
				}
			}
			current[u] = values
		}
		frames = append(frames, Frame{TimestampMs: df.TimestampMs, Universes: cloneUniverses(current)})
	}

	return frames
}

func cloneUniverses(src map[int][512]int) map[int][512]int {
	out := make(map[int][512]int, len(src))
	for u, v := range src {
		out[u] = v
	}
	return out
}
