package beastmux

import (
	"net"
	"time"
)

// ReadMode selects how a Service's read handler frames bytes out of
// its clients' inbound buffers.
type ReadMode int

const (
	// ReadIgnore discards all buffered bytes unconditionally. Used by
	// output-facing services, whose peers may still send bytes back
	// (e.g. stray BEAST commands) that this splitter has no use for.
	ReadIgnore ReadMode = iota
	// ReadBeastData frames BEAST message types '1'..'5' with escape
	// handling.
	ReadBeastData
	// ReadBeastCommand frames only BEAST type '1' with a fixed 1-byte
	// payload. No shipped service factory selects this mode - command
	// framing exists as a capability of the extractor but isn't wired
	// to any of the four service shapes this splitter ships - it is
	// exercised directly in tests.
	ReadBeastCommand
	// ReadASCIIDelimited frames NUL-terminated strings split on a
	// configured separator.
	ReadASCIIDelimited
)

// FrameHandler consumes one complete frame extracted from a Client's
// inbound buffer and reports whether the client should stay open.
// FrameHandler receives the entire frame starting at 0x1A (inclusive of
// any escape stuffing): the single implementation in this core,
// broadcastReadHandler, needs exactly that range to rebroadcast the
// frame unchanged, and a Go slice already carries its own bounds, so
// there is no reason to hand back a bare pointer and make every caller
// recompute where the frame ends.
type FrameHandler func(e *Engine, now time.Time, c *Client, frame []byte) error

// Service represents one role at one or many ports: a human-readable
// description, zero or more bound listeners, an optional Writer
// (present iff the service may emit), a read-mode selector, and an
// optional read handler. Services are created at configuration time
// and live for the process lifetime.
type Service struct {
	Description string
	Listeners   []*net.TCPListener
	Writer      *Writer
	ReadMode    ReadMode
	Separator   []byte
	Handler     FrameHandler

	connections int
}

// Connections reports how many live Clients are currently attached to
// s. It is kept in sync by Engine's accept/close/move operations
// rather than recomputed by scanning the client list.
func (s *Service) Connections() int { return s.connections }

// NewBeastServerInput creates a service that accepts inbound feeder
// connections and broadcasts every BEAST frame it reads.
func NewBeastServerInput(description string) *Service {
	return &Service{
		Description: description,
		ReadMode:    ReadBeastData,
		Handler:     broadcastReadHandler,
	}
}

// NewBeastServerOutput creates a service that accepts outbound
// subscriber connections, ignores anything they send back, and
// buffers broadcast frames for flush with BEAST heartbeats.
func NewBeastServerOutput(description string) *Service {
	s := &Service{
		Description: description,
		ReadMode:    ReadIgnore,
	}
	s.Writer = newWriter(s, beastHeartbeat)
	return s
}

// NewBeastClientInput creates a service bound to a dialed, remote feed
// connection, broadcasting every BEAST frame it reads.
func NewBeastClientInput(description string) *Service {
	return &Service{
		Description: description,
		ReadMode:    ReadBeastData,
		Handler:     broadcastReadHandler,
	}
}

// NewBeastClientOutput creates a service bound to a dialed, remote
// subscriber connection. It has no Writer: broadcast bypasses the
// writer machinery entirely for client-output dial targets and writes
// directly to the socket.
func NewBeastClientOutput(description string) *Service {
	return &Service{
		Description: description,
		ReadMode:    ReadIgnore,
	}
}
