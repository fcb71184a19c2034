package artnet

import (
	"encoding/binary"
	"testing"
)

func TestBuildDMXPacket(t *testing.T) {
	tests := []struct {
		name         string
		universe     int
		channels     []byte
		wantID       string
		wantOpCode   uint16
		wantUniverse uint16
		wantLength   uint16
	}{
		{
			name:         "Universe 0",
			universe:     0,
			channels:     make([]byte, 512),
			wantID:       "Art-Net\x00",
			wantOpCode:   0x5000,
			wantUniverse: 0,
			wantLength:   512,
		},
		{
			name:         "Universe 3",
			universe:     3,
			channels:     make([]byte, 512),
			wantID:       "Art-Net\x00",
			wantOpCode:   0x5000,
			wantUniverse: 3,
			wantLength:   512,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet := BuildDMXPacket(tt.universe, tt.channels, 123)

			if len(packet) != DMXPacketSize {
				t.Errorf("BuildDMXPacket() packet size = %d, want %d", len(packet), DMXPacketSize)
			}

			gotID := string(packet[0:8])
			if gotID != tt.wantID {
				t.Errorf("BuildDMXPacket() ID = %q, want %q", gotID, tt.wantID)
			}

			gotOpCode := binary.LittleEndian.Uint16(packet[8:10])
			if gotOpCode != tt.wantOpCode {
				t.Errorf("BuildDMXPacket() OpCode = 0x%04x, want 0x%04x", gotOpCode, tt.wantOpCode)
			}

			gotVersion := binary.BigEndian.Uint16(packet[10:12])
			if gotVersion != ProtocolVersion {
				t.Errorf("BuildDMXPacket() Protocol Version = %d, want %d", gotVersion, ProtocolVersion)
			}

			if packet[12] != 123 {
				t.Errorf("BuildDMXPacket() Sequence = %d, want 123", packet[12])
			}
			if packet[13] != 0 {
				t.Errorf("BuildDMXPacket() Physical = %d, want 0", packet[13])
			}

			gotUniverse := binary.LittleEndian.Uint16(packet[14:16])
			if gotUniverse != tt.wantUniverse {
				t.Errorf("BuildDMXPacket() Universe = %d, want %d", gotUniverse, tt.wantUniverse)
			}

			gotLength := binary.BigEndian.Uint16(packet[16:18])
			if gotLength != tt.wantLength {
				t.Errorf("BuildDMXPacket() Length = %d, want %d", gotLength, tt.wantLength)
			}
		})
	}
}

func TestBuildDMXPacket_ChannelData(t *testing.T) {
	channels := make([]byte, 512)
	channels[0] = 255
	channels[100] = 128
	channels[511] = 64

	packet := BuildDMXPacket(0, channels, 0)

	if packet[18] != 255 {
		t.Errorf("channel 1 = %d, want 255", packet[18])
	}
	if packet[18+100] != 128 {
		t.Errorf("channel 101 = %d, want 128", packet[18+100])
	}
	if packet[18+511] != 64 {
		t.Errorf("channel 512 = %d, want 64", packet[18+511])
	}
}

func TestBuildDMXPacket_ShortChannelArray(t *testing.T) {
	channels := []byte{100, 200}
	packet := BuildDMXPacket(0, channels, 0)

	if packet[18] != 100 {
		t.Errorf("channel 1 = %d, want 100", packet[18])
	}
	if packet[19] != 200 {
		t.Errorf("channel 2 = %d, want 200", packet[19])
	}
	if packet[20] != 0 {
		t.Errorf("channel 3 = %d, want 0", packet[20])
	}
}

func TestBuildDMXPacket_EmptyChannels(t *testing.T) {
	packet := BuildDMXPacket(0, nil, 0)

	if len(packet) != DMXPacketSize {
		t.Errorf("with nil channels size = %d, want %d", len(packet), DMXPacketSize)
	}
	for i := 18; i < DMXPacketSize; i++ {
		if packet[i] != 0 {
			t.Errorf("channel at offset %d = %d, want 0", i-18, packet[i])
			break
		}
	}
}

func TestBuildPollPacket(t *testing.T) {
	packet := BuildPollPacket()

	if len(packet) != PollPacketSize {
		t.Fatalf("BuildPollPacket() size = %d, want %d", len(packet), PollPacketSize)
	}
	if string(packet[0:8]) != "Art-Net\x00" {
		t.Errorf("BuildPollPacket() ID = %q", packet[0:8])
	}
	gotOpCode := binary.LittleEndian.Uint16(packet[8:10])
	if gotOpCode != OpCodePoll {
		t.Errorf("BuildPollPacket() OpCode = 0x%04x, want 0x%04x", gotOpCode, OpCodePoll)
	}
}

func TestParseDMXPacket_RoundTrip(t *testing.T) {
	channels := make([]byte, 512)
	channels[0] = 10
	channels[511] = 20

	packet := BuildDMXPacket(2, channels, 7)

	frame, err := ParseDMXPacket(packet)
	if err != nil {
		t.Fatalf("ParseDMXPacket() error = %v", err)
	}
	if frame.Universe != 2 {
		t.Errorf("Universe = %d, want 2", frame.Universe)
	}
	if frame.Sequence != 7 {
		t.Errorf("Sequence = %d, want 7", frame.Sequence)
	}
	if frame.Channels[0] != 10 || frame.Channels[511] != 20 {
		t.Errorf("Channels round-trip mismatch: %d, %d", frame.Channels[0], frame.Channels[511])
	}
}

func TestParseDMXPacket_Errors(t *testing.T) {
	if _, err := ParseDMXPacket([]byte{1, 2, 3}); err != ErrShortPacket {
		t.Errorf("short packet error = %v, want ErrShortPacket", err)
	}

	bad := make([]byte, 18)
	copy(bad, "NotArtNet")
	if _, err := ParseDMXPacket(bad); err != ErrBadID {
		t.Errorf("bad ID error = %v, want ErrBadID", err)
	}

	poll := BuildPollPacket()
	padded := make([]byte, 18)
	copy(padded, poll)
	if _, err := ParseDMXPacket(padded); err != ErrWrongOpCode {
		t.Errorf("wrong opcode error = %v, want ErrWrongOpCode", err)
	}
}

func TestParseDMXPacket_DeclaredLengthExceedsBuffer(t *testing.T) {
	channels := make([]byte, 512)
	packet := BuildDMXPacket(0, channels, 0)

	// Truncate the buffer after the header while the length field still
	// claims a full 512 bytes of channel data follow.
	truncated := packet[:18+100]

	if _, err := ParseDMXPacket(truncated); err != ErrShortPacket {
		t.Errorf("truncated packet error = %v, want ErrShortPacket", err)
	}
}
