// Package ioprim is the narrow, non-blocking I/O primitive the core
// multiplexer consumes: accept, read, write and send-buffer sizing on
// TCP endpoints. It is the Go translation of an O_NONBLOCK socket
// layer onto net.Conn's blocking API, using short deadlines to turn a
// would-block condition into an ordinary, cheap return rather than a
// stall.
package ioprim

import (
	"errors"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Read/Accept when there is nothing to
// do this tick - the non-blocking analogue of EAGAIN/EWOULDBLOCK.
var ErrWouldBlock = errors.New("ioprim: would block")

// pollDeadline is how far in the future the deadline is pushed before
// a supposedly non-blocking call. It only needs to be long enough that
// a connection with data already sitting in the kernel buffer is
// observed, and short enough that a genuinely idle socket returns
// promptly.
const pollDeadline = 1 * time.Millisecond

// Accept drains at most one pending connection from ln without
// blocking. It returns ErrWouldBlock if nothing was pending.
func Accept(ln *net.TCPListener) (*net.TCPConn, error) {
	if err := ln.SetDeadline(time.Now().Add(pollDeadline)); err != nil {
		return nil, err
	}
	conn, err := ln.AcceptTCP()
	if err != nil {
		if isTimeout(err) {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	return conn, nil
}

// Read performs one non-blocking read into buf. It returns
// ErrWouldBlock if no bytes were available, and io.EOF (unwrapped) if
// the peer closed the connection.
func Read(conn *net.TCPConn, buf []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, err
	}
	n, err := conn.Read(buf)
	if err != nil {
		if isTimeout(err) && n == 0 {
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

// Write performs a best-effort, bounded-blocking write of the entire
// buffer. Short writes (including those caused by a slow peer that
// doesn't drain its receive window before the deadline) are reported
// as an error so the caller can evict the connection - there is no
// retry queue, matching the broadcast backpressure policy of evicting
// slow consumers rather than buffering for them.
func Write(conn *net.TCPConn, buf []byte) (int, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, err
	}
	n, err := conn.Write(buf)
	if err != nil {
		return n, err
	}
	if n < len(buf) {
		return n, errors.New("ioprim: short write")
	}
	return n, nil
}

// PendingDial is an in-flight outbound connection attempt started by
// StartDial. The connect itself runs on its own goroutine (the one
// place this package can't emulate non-blocking semantics with a short
// deadline, since a TCP connect has no equivalent of re-arming a poll)
// so the tick can keep moving and come back to PollDial later.
type PendingDial struct {
	result chan dialResult
}

type dialResult struct {
	conn *net.TCPConn
	err  error
}

// StartDial begins dialing addr in the background and returns
// immediately. The dial is bounded by timeout; its outcome is
// retrieved later with PollDial.
func StartDial(addr string, timeout time.Duration) *PendingDial {
	p := &PendingDial{result: make(chan dialResult, 1)}
	go func() {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			p.result <- dialResult{nil, err}
			return
		}
		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			conn.Close()
			p.result <- dialResult{nil, errors.New("ioprim: dialed connection is not TCP")}
			return
		}
		p.result <- dialResult{tcpConn, nil}
	}()
	return p
}

// PollDial reports the outcome of a dial started with StartDial
// without blocking. It returns ErrWouldBlock while the dial is still
// in flight; the caller should keep calling PollDial with the same
// *PendingDial on later ticks until it returns something else.
func PollDial(p *PendingDial) (*net.TCPConn, error) {
	select {
	case r := <-p.result:
		return r.conn, r.err
	default:
		return nil, ErrWouldBlock
	}
}

// SetSendBuffer sets the kernel socket send buffer size directly via
// SO_SNDBUF, bypassing the doubling net.TCPConn.SetWriteBuffer applies
// internally on Linux, so that net_sndbuf_size's documented scaling
// (64KB * 2^multiplier) lands on the wire exactly as configured.
func SetSendBuffer(conn *net.TCPConn, bytes int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return os.IsTimeout(err)
}
