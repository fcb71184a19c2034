package streaming

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/Kortesaas/venue-light-controller/pkg/artnet"
)

// buildPartialDMXPacket builds a raw ArtDMX packet whose declared Data
// Length is shorter than 512, the way a real sender transmits a
// universe that only uses its leading channels.
func buildPartialDMXPacket(universe int, channels []byte, seq byte) []byte {
	packet := make([]byte, 18+len(channels))
	copy(packet[0:8], artnet.ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], artnet.OpCodeDMX)
	binary.BigEndian.PutUint16(packet[10:12], artnet.ProtocolVersion)
	packet[12] = seq
	packet[13] = 0
	binary.LittleEndian.PutUint16(packet[14:16], uint16(universe))
	binary.BigEndian.PutUint16(packet[16:18], uint16(len(channels)))
	copy(packet[18:], channels)
	return packet
}

func TestBroadcastFromLocal(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"simple", "2.0.0.30", "2.255.255.255"},
		{"class-c", "192.168.1.42", "192.255.255.255"},
		{"malformed", "not-an-ip", "255.255.255.255"},
		{"empty", "", "255.255.255.255"},
		{"ipv6-shaped", "::1", "255.255.255.255"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := broadcastFromLocal(tt.ip); got != tt.want {
				t.Errorf("broadcastFromLocal(%q) = %q, want %q", tt.ip, got, tt.want)
			}
		})
	}
}

func TestEngineStartUpdateStopLifecycle(t *testing.T) {
	e := New()
	if e.IsRunning() {
		t.Fatalf("new engine reports running")
	}

	payload := Payload{0: [512]byte{}}
	if err := e.Start(payload, "127.0.0.1", "127.0.0.1", 30, 5); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !e.IsRunning() {
		t.Fatalf("engine not running after Start()")
	}

	var updated [512]byte
	updated[0] = 200
	e.Update(Payload{0: updated})

	e.Stop()
	if e.IsRunning() {
		t.Fatalf("engine still running after Stop()")
	}

	// Stop is idempotent.
	e.Stop()
}

func TestEngineStartIdempotentReplace(t *testing.T) {
	e := New()
	if err := e.Start(Payload{0: [512]byte{}}, "127.0.0.1", "127.0.0.1", 30, 5); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	defer e.Stop()

	if err := e.Start(Payload{1: [512]byte{}}, "127.0.0.1", "127.0.0.1", 30, 5); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !e.IsRunning() {
		t.Fatalf("engine not running after restart")
	}
}

func TestRecordSnapshotsUnobservedUniverseIsZero(t *testing.T) {
	result, err := RecordSnapshots([]int{0}, 0.05)
	if err != nil {
		t.Fatalf("RecordSnapshots() error = %v", err)
	}
	values, ok := result[0]
	if !ok {
		t.Fatalf("RecordSnapshots() missing universe 0")
	}
	for i, v := range values {
		if v != 0 {
			t.Fatalf("channel %d = %d, want 0 (no traffic observed)", i, v)
		}
	}
}

func TestRecordSnapshotsPartialLengthPacketPreservesOtherChannels(t *testing.T) {
	go func() {
		conn, err := net.Dial("udp4", "127.0.0.1:6454")
		if err != nil {
			return
		}
		defer conn.Close()

		full := make([]byte, 512)
		for i := range full {
			full[i] = 50
		}
		_, _ = conn.Write(buildPartialDMXPacket(0, full, 1))
		time.Sleep(20 * time.Millisecond)

		// A subsequent partial packet touching only channel 0 must not
		// zero out the channels it omits.
		_, _ = conn.Write(buildPartialDMXPacket(0, []byte{200}, 2))
	}()

	result, err := RecordSnapshots([]int{0}, 0.3)
	if err != nil {
		t.Fatalf("RecordSnapshots() error = %v", err)
	}
	values, ok := result[0]
	if !ok {
		t.Fatalf("RecordSnapshots() missing universe 0")
	}
	if values[0] != 200 {
		t.Errorf("channel 0 = %d, want 200", values[0])
	}
	if values[1] != 50 {
		t.Errorf("channel 1 = %d, want unchanged 50, partial packet zeroed it out", values[1])
	}
}
