package beastmux

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/denzen84/beast-repeater/internal/ioprim"
)

// DialTarget is a persistent outbound connection intent, re-established
// automatically on failure. Only the Engine's dial registry owns
// DialTargets; a DialTarget holds a non-owning reference to its
// Client, which is explicitly cleared (rather than left dangling)
// whenever that Client is pruned.
type DialTarget struct {
	// ID tags the dial intent itself (stable across reconnects) for
	// diagnostics.
	ID string

	Service *Service
	Client  *Client
	Host    string
	Port    string
	// IsInput is true for beast-client-input targets (the remote peer
	// is a feed we read from) and false for beast-client-output targets
	// (the remote peer is a subscriber we write to).
	IsInput bool

	reconnectAt time.Time
	backoff     backoff.BackOff

	// pending is the in-flight dial attempt started by reconnectPhase,
	// nil whenever no attempt is outstanding.
	pending *ioprim.PendingDial
}

// newDialTarget creates a DialTarget that attempts its first connect
// immediately on the next reconnect phase.
func newDialTarget(service *Service, host, port string, isInput bool) *DialTarget {
	return &DialTarget{
		ID:          uuid.New().String(),
		Service:     service,
		Host:        host,
		Port:        port,
		IsInput:     isInput,
		reconnectAt: time.Now(),
		backoff:     backoff.NewConstantBackOff(ReconnectInterval),
	}
}

// address is the host:port this target dials.
func (dt *DialTarget) address() string { return FormatAddress(dt.Host, dt.Port) }

// deferReconnect pushes the next reconnect attempt out by the dial
// target's backoff policy - a constant, never-give-up interval, named
// explicitly through a backoff.BackOff rather than reimplemented as a
// raw time.Duration add.
func (dt *DialTarget) deferReconnect(now time.Time) {
	dt.reconnectAt = now.Add(dt.backoff.NextBackOff())
}
