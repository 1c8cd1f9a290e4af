package beastmux

import (
	"bytes"
	"time"
)

// beastPayloadLen returns the payload length for a BEAST message type
// tag, and whether the tag is recognized at all. Tag '5' is pinned to
// 14 bytes (the BEAST-standard length for DF-24+). Only the extractor
// calls this function; broadcast forwards the frame slice the extractor
// cut, so there is no separate length computation to disagree with it.
func beastPayloadLen(tag byte) (int, bool) {
	switch tag {
	case '1':
		return 2, true
	case '2':
		return 7, true
	case '3':
		return 14, true
	case '4':
		return 14, true
	case '5':
		return 14, true
	default:
		return 0, false
	}
}

// beastMetadataBytes counts the type tag itself plus the fixed 6-byte
// timestamp and 1-byte signal level that follow it in every BEAST data
// frame.
const beastMetadataBytes = 8

// frameClient runs one pass of the byte extractor configured by
// c.service.ReadMode over c's inbound buffer, invoking the service's
// handler for every complete frame found, and shifts any unconsumed
// residue to the front of the buffer afterward.
func (e *Engine) frameClient(now time.Time, c *Client) {
	var consumed int
	switch c.service.ReadMode {
	case ReadIgnore:
		consumed = c.buflen
	case ReadBeastData:
		consumed = e.scanBeast(now, c, false)
	case ReadBeastCommand:
		consumed = e.scanBeast(now, c, true)
	case ReadASCIIDelimited:
		consumed = e.scanASCII(now, c)
	}
	if consumed > 0 {
		remaining := c.buflen - consumed
		copy(c.buf[:remaining], c.buf[consumed:c.buflen])
		c.buflen = remaining
	}
}

// scanBeast scans [0, buflen) for complete BEAST frames, invoking the
// service's handler on each and closing the client if the handler
// reports a fatal error. It returns how many leading bytes were
// consumed. commandOnly restricts recognized tags to '1' with a 1-byte
// payload, for ReadBeastCommand services.
func (e *Engine) scanBeast(now time.Time, c *Client, commandOnly bool) int {
	buf := c.buf[:c.buflen]
	som := 0
	for {
		idx := bytes.IndexByte(buf[som:], 0x1A)
		if idx == -1 {
			// No start-of-frame anywhere in the remainder: it's all
			// garbage, discard it.
			return len(buf)
		}
		som += idx

		if som+1 >= len(buf) {
			// Have the 0x1A but not yet the type tag: wait for more.
			return som
		}

		tag := buf[som+1]
		var payloadLen int
		var ok bool
		if commandOnly {
			if tag == '1' {
				payloadLen, ok = 1, true
			}
		} else {
			payloadLen, ok = beastPayloadLen(tag)
		}
		if !ok {
			// Unrecognized tag: this wasn't really a frame start.
			// Advance past the 0x1A and resync on the next one.
			som++
			continue
		}

		// A command frame carries no timestamp/signal metadata: just
		// the tag and its payload.
		header := beastMetadataBytes
		if commandOnly {
			header = 1
		}
		eom := som + 1 + header + payloadLen
		// Escaped 0x1A bytes inside the payload window double up on
		// the wire; each doubled pair advances eom by one to keep the
		// decoded length fixed while consuming the extra stuffed byte.
		p := som + 1
		for p < eom && p < len(buf) {
			if buf[p] == 0x1A {
				eom++
				p += 2
			} else {
				p++
			}
		}

		if eom > len(buf) {
			// Incomplete: leave the partial frame in the buffer.
			return som
		}

		frame := buf[som:eom]
		if c.service.Handler != nil {
			if err := c.service.Handler(e, now, c, frame); err != nil {
				e.closeClient(c)
				return eom
			}
		}
		som = eom
	}
}

// scanASCII scans [0, buflen) for messages delimited by the service's
// configured separator. The buffer is NUL-terminated first, which is
// always possible because ClientBufSize reserves one trailing byte.
func (e *Engine) scanASCII(now time.Time, c *Client) int {
	c.buf[c.buflen] = 0
	buf := c.buf[:c.buflen]
	sep := c.service.Separator
	som := 0
	for {
		idx := bytes.Index(buf[som:], sep)
		if idx == -1 {
			return som
		}
		msgEnd := som + idx
		buf[msgEnd] = 0
		if c.service.Handler != nil {
			if err := c.service.Handler(e, now, c, buf[som:msgEnd]); err != nil {
				e.closeClient(c)
				return msgEnd + len(sep)
			}
		}
		som = msgEnd + len(sep)
	}
}
