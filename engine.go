package beastmux

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/denzen84/beast-repeater/internal/ioprim"
)

// ErrUnknownService is returned by operations given a *Service that
// was never registered with AddService.
var ErrUnknownService = errors.New("beastmux: unknown service")

// ErrAlreadyListening is returned by Listen when s already has a
// listener bound to the requested address.
var ErrAlreadyListening = errors.New("beastmux: already listening on that address")

// ioBackend is the narrow, non-blocking I/O interface the engine
// consumes from the lowest-level socket helpers. The default
// implementation is internal/ioprim; it is an interface here so tests
// can substitute a fake transport without standing up real sockets
// when that's all a test needs.
type ioBackend interface {
	Accept(ln *net.TCPListener) (*net.TCPConn, error)
	Read(conn *net.TCPConn, buf []byte) (int, error)
	Write(conn *net.TCPConn, buf []byte) (int, error)
	SetSendBuffer(conn *net.TCPConn, bytes int) error
	StartDial(addr string, timeout time.Duration) *ioprim.PendingDial
	PollDial(p *ioprim.PendingDial) (*net.TCPConn, error)
}

type defaultIO struct{}

func (defaultIO) Accept(ln *net.TCPListener) (*net.TCPConn, error) { return ioprim.Accept(ln) }
func (defaultIO) Read(c *net.TCPConn, buf []byte) (int, error)     { return ioprim.Read(c, buf) }
func (defaultIO) Write(c *net.TCPConn, buf []byte) (int, error)    { return ioprim.Write(c, buf) }
func (defaultIO) SetSendBuffer(c *net.TCPConn, n int) error        { return ioprim.SetSendBuffer(c, n) }
func (defaultIO) StartDial(addr string, timeout time.Duration) *ioprim.PendingDial {
	return ioprim.StartDial(addr, timeout)
}
func (defaultIO) PollDial(p *ioprim.PendingDial) (*net.TCPConn, error) { return ioprim.PollDial(p) }

// Engine owns every piece of mutable state a running splitter needs:
// the services list, the clients list, the dial registry, and
// configuration, threaded through every operation rather than read
// from a package-global. There are no locks anywhere in Engine because
// there is exactly one goroutine - the periodic tick - that ever
// mutates it.
type Engine struct {
	config Config
	logger *log.Logger
	io     ioBackend

	services    []*Service
	clients     []*Client
	dialTargets []*DialTarget

	exit atomic.Bool
}

// NewEngine creates an Engine with the given configuration. If logger
// is nil, diagnostics go to a log.Logger writing to os.Stderr with a
// "beast-repeater: " prefix.
func NewEngine(config Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "beast-repeater: ", log.LstdFlags)
	}
	return &Engine{
		config: config,
		logger: logger,
		io:     defaultIO{},
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	e.logger.Printf(format, args...)
}

// AddService registers s with the engine so its listeners (if any) are
// polled for accepts and its writer (if any) is flushed/heartbeat by
// the tick.
func (e *Engine) AddService(s *Service) {
	e.services = append(e.services, s)
}

// hasService reports whether s was registered with AddService.
func (e *Engine) hasService(s *Service) bool {
	for _, known := range e.services {
		if known == s {
			return true
		}
	}
	return false
}

// Listen binds a new listening endpoint for s on host:port, adding it
// to s.Listeners. A bind failure is fatal at startup: it is returned to
// the caller, who is expected to report it and exit rather than retry.
// It returns ErrUnknownService if s was never passed to AddService, and
// ErrAlreadyListening if s already has a listener bound to addr.
func (e *Engine) Listen(s *Service, host, port string) error {
	if !e.hasService(s) {
		return ErrUnknownService
	}
	addr := FormatAddress(host, port)
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	for _, ln := range s.Listeners {
		// Compare resolved addresses: a wildcard listener reports itself
		// as [::]:port even when it was bound from 0.0.0.0:port.
		bound, ok := ln.Addr().(*net.TCPAddr)
		if !ok || bound.Port != tcpAddr.Port {
			continue
		}
		if bound.IP.Equal(tcpAddr.IP) || (bound.IP.IsUnspecified() && (tcpAddr.IP == nil || tcpAddr.IP.IsUnspecified())) {
			return ErrAlreadyListening
		}
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.Listeners = append(s.Listeners, ln)
	e.logf("%s: listening on %s", s.Description, addr)
	return nil
}

// AddDialTarget registers an outbound connection intent. The target
// attempts its first connect on the next tick's reconnect phase. It
// returns ErrUnknownService if service was never passed to AddService.
func (e *Engine) AddDialTarget(service *Service, host, port string, isInput bool) (*DialTarget, error) {
	if !e.hasService(service) {
		return nil, ErrUnknownService
	}
	dt := newDialTarget(service, host, port, isInput)
	e.dialTargets = append(e.dialTargets, dt)
	return dt, nil
}

// Stop sets the exit flag; the current tick finishes and Run returns
// after it. This is the only cross-goroutine interaction in the
// engine - typically driven by a signal.NotifyContext-style handler in
// the CLI entrypoint.
func (e *Engine) Stop() { e.exit.Store(true) }

// Stopped reports whether Stop has been called.
func (e *Engine) Stopped() bool { return e.exit.Load() }

// Run executes Tick repeatedly, sleeping config.TickInterval between
// passes, until Stop is called. It returns after the tick in which
// Stopped() first became true.
func (e *Engine) Run() {
	for !e.Stopped() {
		e.Tick(time.Now())
		time.Sleep(e.config.TickInterval)
	}
}

// Tick executes one pass of the periodic work loop: accept, read,
// heartbeat, flush, prune, reconnect, in that order. A FrameHandler
// invoked during the read phase may synchronously close other clients
// via Broadcast; later phases tolerate that by checking c.service for
// nil before acting on a client, exactly as the read phase's own loop
// does.
func (e *Engine) Tick(now time.Time) {
	e.acceptPhase()
	e.readPhase(now)
	e.heartbeatPhase(now)
	e.flushPhase(now)
	e.prunePhase()
	e.reconnectPhase(now)
}

func (e *Engine) acceptPhase() {
	for _, s := range e.services {
		for _, ln := range s.Listeners {
			for {
				conn, err := e.io.Accept(ln)
				if err != nil {
					if err == ioprim.ErrWouldBlock {
						break
					}
					e.logf("%s: accept error: %v", s.Description, err)
					break
				}
				if err := e.io.SetSendBuffer(conn, e.config.sendBufferBytes()); err != nil {
					e.logf("%s: set send buffer: %v", s.Description, err)
				}
				c := newClient(conn, s)
				e.clients = append([]*Client{c}, e.clients...)
				e.logf("%s: accepted connection %s from %s", s.Description, c.ID, c.RemoteAddr())
			}
		}
	}
}

func (e *Engine) readPhase(now time.Time) {
	for _, c := range e.clients {
		if c.service == nil || c.service.Handler == nil {
			// Output-facing services (IGNORE mode, no handler) are never
			// read at all, so any bytes a subscriber sends back simply
			// accumulate unread in the kernel receive buffer rather than
			// being drained.
			continue
		}
		e.readClient(now, c)
	}
}

// readClient performs one non-blocking read into c's buffer, discarding
// and restarting from empty if the buffer is already full (a peer
// sending a frame too large to ever complete can't wedge the client),
// then runs the frame extractor over whatever is now buffered.
func (e *Engine) readClient(now time.Time, c *Client) {
	if c.conn == nil {
		return
	}
	space := ClientBufSize - c.buflen - 1
	if space <= 0 {
		c.buflen = 0
		space = ClientBufSize - 1
	}
	n, err := e.io.Read(c.conn, c.buf[c.buflen:c.buflen+space])
	switch {
	case err == ioprim.ErrWouldBlock:
		// No more data this tick; still frame whatever is buffered.
	case err == io.EOF:
		e.closeClient(c)
		return
	case err != nil:
		e.closeClient(c)
		return
	default:
		c.buflen += n
	}
	if c.service != nil {
		e.frameClient(now, c)
	}
}

func (e *Engine) heartbeatPhase(now time.Time) {
	if e.config.HeartbeatInterval <= 0 {
		return
	}
	for _, s := range e.services {
		w := s.Writer
		if w == nil || s.connections == 0 || w.heartbeat == nil {
			continue
		}
		if w.lastWrite.Add(e.config.HeartbeatInterval).After(now) {
			continue
		}
		w.heartbeat(e, now, w)
	}
}

func (e *Engine) flushPhase(now time.Time) {
	for _, s := range e.services {
		w := s.Writer
		if w == nil || w.dataUsed == 0 {
			continue
		}
		if w.lastWrite.Add(e.config.FlushInterval).After(now) {
			continue
		}
		e.flushWriter(now, w)
	}
}

func (e *Engine) prunePhase() {
	live := e.clients[:0]
	for _, c := range e.clients {
		if c.conn == nil {
			e.logf("connection lost: %s (%s)", c.ID, c.RemoteAddr())
			for _, dt := range e.dialTargets {
				if dt.Client == c {
					dt.Client = nil
				}
			}
			continue
		}
		live = append(live, c)
	}
	e.clients = live
}

// reconnectPhase drives every DialTarget's connect attempt without ever
// blocking the tick on the network: a target with no attempt in flight
// starts one on a background goroutine (dt.pending) and moves on; a
// target with an attempt already in flight polls it non-blockingly and
// only acts once it resolves. Several simultaneous due reconnects each
// cost one StartDial/PollDial call, not one DialTimeout wait.
func (e *Engine) reconnectPhase(now time.Time) {
	for _, dt := range e.dialTargets {
		if dt.Client != nil && dt.Service.connections != 0 {
			continue
		}
		if dt.pending == nil {
			if now.Before(dt.reconnectAt) {
				continue
			}
			e.logf("dial %s: connecting to %s...", dt.ID, dt.address())
			dt.pending = e.io.StartDial(dt.address(), e.config.DialTimeout)
			continue
		}
		tcpConn, err := e.io.PollDial(dt.pending)
		if err == ioprim.ErrWouldBlock {
			continue
		}
		dt.pending = nil
		if err != nil {
			e.logf("dial %s: connect to %s failed: %v, retrying in %s", dt.ID, dt.address(), err, ReconnectInterval)
			dt.deferReconnect(now)
			continue
		}
		if err := e.io.SetSendBuffer(tcpConn, e.config.sendBufferBytes()); err != nil {
			e.logf("dial %s: set send buffer: %v", dt.ID, err)
		}
		c := newClient(tcpConn, dt.Service)
		e.clients = append([]*Client{c}, e.clients...)
		dt.Client = c
		dt.reconnectAt = now
		e.logf("dial %s: connection established to %s", dt.ID, dt.address())
	}
}
