// Package beastmux is a stateless splitter/aggregator for BEAST-framed
// Mode-S radar message streams. It listens for and dials peers; input
// peers produce a stream of BEAST frames which are re-broadcast,
// without transformation, to every output peer. There is no decoding,
// filtering, or persistence - only framing, fan-in/fan-out, connection
// lifecycle, and keep-alive.
package beastmux

import "time"

// OutBufSize is the fixed capacity of a Writer's outbound byte buffer.
const OutBufSize = 1500

// ClientBufSize is the fixed capacity of a Client's inbound byte
// buffer. One byte is always reserved so an ASCII-mode buffer can be
// NUL-terminated in place.
const ClientBufSize = 1024

// ReconnectInterval is how long a failed dial defers its next attempt.
const ReconnectInterval = 10 * time.Second

// beastHeartbeatFrame is the well-formed, zero-payload type-'1' BEAST
// frame emitted to keep idle outbound connections alive. It is kept as
// a literal byte slice rather than built through the general encoder
// so the wire bytes are pinned and auditable by inspection.
var beastHeartbeatFrame = []byte{0x1A, '1', 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// FormatAddress joins a host and port into a dial/listen address.
func FormatAddress(host, port string) string {
	if host == "" {
		return ":" + port
	}
	return host + ":" + port
}
