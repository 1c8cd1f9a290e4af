package beastmux

import "time"

// Broadcast fans a single raw BEAST frame (the byte range starting at
// the leading 0x1A through the end of its payload, escape stuffing
// included) out to every connected output peer: client-output dial
// targets are written to directly and unbuffered, best-effort; every
// service with a Writer and at least one connection gets the frame
// enqueued through prepareWrite/completeWrite. now is the same value
// the triggering Tick received, threaded through so a Broadcast called
// synchronously out of the read phase stamps any flushed Writer's
// lastWrite from the tick's clock rather than the wall clock.
func (e *Engine) Broadcast(now time.Time, frame []byte) {
	for _, dt := range e.dialTargets {
		if dt.IsInput || dt.Client == nil || dt.Client.Closed() {
			continue
		}
		if err := e.writeToClient(dt.Client, frame); err != nil {
			e.closeClient(dt.Client)
		}
	}
	for _, s := range e.services {
		if s.Writer == nil || s.connections == 0 {
			continue
		}
		region, ok := e.prepareWrite(now, s.Writer, len(frame))
		if !ok {
			continue
		}
		copy(region, frame)
		e.completeWrite(now, s.Writer, len(frame))
	}
}

// broadcastReadHandler is the only FrameHandler this core ships. It is
// installed on beast-server-input and beast-client-input services: one
// complete frame in, rebroadcast to every output peer.
//
// Tag '4' is accepted by the extractor (see beastPayloadLen) but
// deliberately skipped here and never rebroadcast - a known quirk, kept
// rather than guessed-and-fixed since its intent is unclear.
func broadcastReadHandler(e *Engine, now time.Time, c *Client, frame []byte) error {
	if len(frame) < 2 {
		return nil
	}
	if frame[1] == '4' {
		return nil
	}
	e.Broadcast(now, frame)
	return nil
}
