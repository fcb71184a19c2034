// Package artnet provides Art-Net protocol packet building and parsing.
package artnet

import (
	"encoding/binary"
	"errors"
)

const (
	// OpCodeDMX is the Art-Net operation code for DMX data.
	OpCodeDMX uint16 = 0x5000
	// OpCodePoll is the Art-Net operation code for node discovery.
	OpCodePoll uint16 = 0x2000
	// ProtocolVersion is the Art-Net protocol version.
	ProtocolVersion uint16 = 14
	// DMXDataLength is the number of DMX channels per universe.
	DMXDataLength uint16 = 512
	// DMXPacketSize is the total size of an Art-Net DMX packet.
	DMXPacketSize = 18 + int(DMXDataLength) // Header (18) + Data (512)
	// PollPacketSize is the total size of an Art-Net poll packet.
	PollPacketSize = 14
	// DefaultPort is the standard Art-Net UDP port.
	DefaultPort = 6454
)

// ArtNetID is the Art-Net packet identifier.
var ArtNetID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// ErrShortPacket is returned when a buffer is too small to hold a valid
// Art-Net packet of the opcode it claims to carry.
var ErrShortPacket = errors.New("artnet: packet too short")

// ErrBadID is returned when a packet does not carry the Art-Net identifier.
var ErrBadID = errors.New("artnet: missing Art-Net ID")

// ErrWrongOpCode is returned when ParseDMXPacket is handed a packet whose
// opcode is not OpCodeDMX.
var ErrWrongOpCode = errors.New("artnet: not a DMX packet")

// BuildDMXPacket creates an Art-Net DMX packet for the given universe.
// Universe is zero-based, matching the universe indexing used throughout
// the controller. Channels should be exactly 512 bytes; shorter slices are
// zero-padded, longer ones are truncated. Sequence should increment for
// each packet sent on a given universe (0-255, wraps around) so receivers
// can detect out-of-order UDP delivery.
func BuildDMXPacket(universe int, channels []byte, sequence byte) []byte {
	packet := make([]byte, DMXPacketSize)

	copy(packet[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], OpCodeDMX)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = sequence
	packet[13] = 0 // physical input port, unused
	binary.LittleEndian.PutUint16(packet[14:16], uint16(universe))
	binary.BigEndian.PutUint16(packet[16:18], DMXDataLength)

	if len(channels) >= int(DMXDataLength) {
		copy(packet[18:DMXPacketSize], channels[:DMXDataLength])
	} else {
		copy(packet[18:18+len(channels)], channels)
	}

	return packet
}

// BuildPollPacket creates an Art-Net ArtPoll packet. TalkToMe and Priority
// are sent as zero, which asks nodes to reply once rather than whenever
// their state changes.
func BuildPollPacket() []byte {
	packet := make([]byte, PollPacketSize)

	copy(packet[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], OpCodePoll)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = 0 // TalkToMe
	packet[13] = 0 // Priority

	return packet
}

// DMXFrame is a parsed ArtDMX packet. Length is the number of leading
// channels actually carried by the packet (its declared Data Length);
// Channels beyond Length are zero-filled padding, not received data.
type DMXFrame struct {
	Sequence byte
	Universe int
	Length   int
	Channels [512]byte
}

// ParseDMXPacket parses a raw UDP payload as an Art-Net DMX packet. It
// returns ErrBadID if the packet lacks the Art-Net identifier and
// ErrWrongOpCode if the opcode isn't OpCodeDMX.
func ParseDMXPacket(packet []byte) (DMXFrame, error) {
	var frame DMXFrame

	if len(packet) < 18 {
		return frame, ErrShortPacket
	}
	if string(packet[0:8]) != string(ArtNetID) {
		return frame, ErrBadID
	}
	opCode := binary.LittleEndian.Uint16(packet[8:10])
	if opCode != OpCodeDMX {
		return frame, ErrWrongOpCode
	}

	frame.Sequence = packet[12]
	frame.Universe = int(binary.LittleEndian.Uint16(packet[14:16]))
	length := binary.BigEndian.Uint16(packet[16:18])

	n := int(length)
	if n > 512 {
		n = 512
	}
	if 18+n > len(packet) {
		return DMXFrame{}, ErrShortPacket
	}
	if n > 0 {
		copy(frame.Channels[:n], packet[18:18+n])
	}
	frame.Length = n

	return frame, nil
}
