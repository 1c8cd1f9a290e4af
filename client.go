package beastmux

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Client is a single live TCP connection bound to one Service, with an
// inbound byte buffer. A nil conn means "closed, awaiting prune", and
// conn == nil iff service == nil.
type Client struct {
	// ID tags every accepted or dialed connection for diagnostics, so
	// that repeated connections from the same peer address are
	// distinguishable in logs without decoding any payload.
	ID string

	conn       *net.TCPConn
	service    *Service
	remoteAddr string

	buf    [ClientBufSize]byte
	buflen int
}

// RemoteAddr returns the address the client connected from or to.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// Closed reports whether the client has already been closed and is
// only waiting to be pruned from the clients list.
func (c *Client) Closed() bool { return c.conn == nil }

// newClient wires conn into service, incrementing its connection
// count. It does not insert the Client into the engine's client list -
// callers do that so the insert-at-the-head ordering policy stays
// visible at the call site.
func newClient(conn *net.TCPConn, service *Service) *Client {
	c := &Client{
		ID:         uuid.New().String(),
		conn:       conn,
		service:    service,
		remoteAddr: conn.RemoteAddr().String(),
	}
	service.connections++
	return c
}

// connectionsFor returns the number of clients currently attached to s,
// from the cached counter Service.connections maintains as clients are
// accepted/dialed and closed - the same counter prepareWrite, the
// heartbeat phase, and the flush phase read directly.
func (e *Engine) connectionsFor(s *Service) int {
	if s == nil {
		return 0
	}
	return s.connections
}

// writeToClient performs a best-effort, unbuffered write to c's
// socket, used both by flushWriter and by direct client-output
// broadcast writes.
func (e *Engine) writeToClient(c *Client, data []byte) error {
	_, err := e.io.Write(c.conn, data)
	return err
}

// closeClient closes c's socket (if not already closed), decrements
// its owning service's connection count, and marks it closed. The
// Client stays linked in e.clients until the next tick's prune phase -
// closing only breaks the fd/service association, it doesn't unlink.
func (e *Engine) closeClient(c *Client) {
	if c.conn == nil {
		e.logf("client %s: already closed", c.ID)
		return
	}
	c.conn.Close()
	if c.service != nil {
		c.service.connections--
		c.service = nil
	}
	c.conn = nil
}

// moveClient reattaches c to a different service - used when a later
// extension needs to change a connection's role mid-stream. Moving
// flushes the old service's writer first (to preserve frame
// boundaries for whoever was reading it), then the new service's
// writer (for symmetry), and updates both connection counts. Moving a
// client to its current service is a no-op.
func (e *Engine) moveClient(now time.Time, c *Client, to *Service) {
	if c.service == to {
		return
	}
	if c.service != nil {
		if c.service.Writer != nil {
			e.flushWriter(now, c.service.Writer)
		}
		c.service.connections--
	}
	if to.Writer != nil {
		e.flushWriter(now, to.Writer)
	}
	to.connections++
	c.service = to
}
