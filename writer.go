package beastmux

import "time"

// HeartbeatFunc emits a keep-alive frame through a Writer's buffered
// output. The only implementation in this core is beastHeartbeat.
type HeartbeatFunc func(e *Engine, now time.Time, w *Writer)

// Writer is a per-service outbound byte buffer with a size/time flush
// policy and an optional heartbeat hook. It is a small value type: all
// its behavior lives on *Engine, which is the thing that actually
// knows which clients belong to the writer's service.
type Writer struct {
	service   *Service
	buf       [OutBufSize]byte
	dataUsed  int
	lastWrite time.Time
	heartbeat HeartbeatFunc
}

// newWriter creates a Writer owned by service, with the given
// heartbeat emitter (nil for none). lastWrite starts at its zero value
// rather than the wall clock - a Writer is constructed before any tick
// runs, so stamping it from time.Now() here would make its first
// heartbeat/flush eligibility depend on wall-clock skew between
// construction and the first Tick(now) rather than on now itself. The
// zero value is always "due", which is the correct behavior for a
// freshly built writer.
func newWriter(service *Service, heartbeat HeartbeatFunc) *Writer {
	return &Writer{service: service, heartbeat: heartbeat}
}

// prepareWrite returns a writable region of n bytes inside w's buffer,
// or ok=false if the write should be skipped entirely: w is nil, n
// exceeds OutBufSize, or the writer's service currently has no
// connected clients. If the buffer doesn't have room, it is flushed
// first to make room.
func (e *Engine) prepareWrite(now time.Time, w *Writer, n int) (region []byte, ok bool) {
	if w == nil || n > OutBufSize {
		return nil, false
	}
	if e.connectionsFor(w.service) == 0 {
		return nil, false
	}
	if w.dataUsed+n >= OutBufSize {
		e.flushWriter(now, w)
	}
	region = w.buf[w.dataUsed : w.dataUsed+n]
	return region, true
}

// completeWrite records that n bytes were written into the region
// returned by the preceding prepareWrite call, flushing immediately if
// the configured flush-size threshold has been reached.
func (e *Engine) completeWrite(now time.Time, w *Writer, n int) {
	w.dataUsed += n
	if w.dataUsed >= e.config.FlushSize {
		e.flushWriter(now, w)
	}
}

// flushWriter sends w's buffered bytes to every Client attached to w's
// service, in one pass. Any client whose write comes up short
// (including outright errors) is closed - there is no per-client retry
// queue. This is the backpressure policy: slow consumers are evicted,
// not throttled. now stamps lastWrite so the tick's notion of time
// stays a pure function of the now passed into Tick, not the wall
// clock - required for flushPhase/heartbeatPhase to be replayable
// against a synthetic clock.
func (e *Engine) flushWriter(now time.Time, w *Writer) {
	if w.dataUsed > 0 {
		data := w.buf[:w.dataUsed]
		for _, c := range e.clients {
			if c.service != w.service {
				continue
			}
			if err := e.writeToClient(c, data); err != nil {
				e.closeClient(c)
			}
		}
	}
	w.dataUsed = 0
	w.lastWrite = now
}

// beastHeartbeat is the HeartbeatFunc used by beast-server-output
// services: a well-formed, zero-payload type-'1' BEAST frame, enqueued
// through the ordinary prepareWrite/completeWrite path like any other
// frame.
func beastHeartbeat(e *Engine, now time.Time, w *Writer) {
	region, ok := e.prepareWrite(now, w, len(beastHeartbeatFrame))
	if !ok {
		return
	}
	copy(region, beastHeartbeatFrame)
	e.completeWrite(now, w, len(beastHeartbeatFrame))
}
