// Package slipcodec implements the SLIP (Serial Line Internet Protocol)
// byte-stuffing framing scheme used on the device's USB CDC link.
package slipcodec

const (
	END    byte = 0xC0
	ESC    byte = 0xDB
	ESCEnd byte = 0xDC
	ESCEsc byte = 0xDD
)

type state int

const (
	stateNormal state = iota
	stateEscape
)

// Decoder turns an unbounded, possibly fragmented byte stream into a
// sequence of completed frames. Feed arbitrary chunks to Write; each
// completed frame is delivered to the callback supplied to NewDecoder.
type Decoder struct {
	st      state
	buf     []byte
	onFrame func([]byte)
}

// NewDecoder creates a decoder that invokes onFrame for every completed
// frame. Ownership of the frame slice passes to the callback; the
// decoder starts a fresh accumulator for the next frame.
func NewDecoder(onFrame func(frame []byte)) *Decoder {
	return &Decoder{onFrame: onFrame}
}

// Reset clears any partially accumulated frame, making the decoder behave
// as if freshly constructed.
func (d *Decoder) Reset() {
	d.st = stateNormal
	d.buf = d.buf[:0]
}

// Write feeds a chunk of raw bytes to the decoder. Any interleaving of
// fragmented chunks that concatenates to the same bytes yields the same
// frame sequence.
func (d *Decoder) Write(chunk []byte) {
	for _, b := range chunk {
		switch d.st {
		case stateEscape:
			switch b {
			case ESCEnd:
				d.buf = append(d.buf, END)
			case ESCEsc:
				d.buf = append(d.buf, ESC)
			default:
				d.buf = append(d.buf, b)
			}
			d.st = stateNormal
		default: // stateNormal
			switch b {
			case END:
				if len(d.buf) > 0 {
					frame := d.buf
					d.buf = nil
					d.onFrame(frame)
				}
				// consecutive END bytes are a legal no-op
			case ESC:
				d.st = stateEscape
			default:
				d.buf = append(d.buf, b)
			}
		}
	}
}

// Encode wraps a single frame in SLIP framing: END-terminated, with ESC
// byte-stuffing for literal END/ESC bytes in the payload.
func Encode(frame []byte) []byte {
	out := make([]byte, 0, len(frame)+2)
	for _, b := range frame {
		switch b {
		case END:
			out = append(out, ESC, ESCEnd)
		case ESC:
			out = append(out, ESC, ESCEsc)
		default:
			out = append(out, b)
		}
	}
	out = append(out, END)
	return out
}
