// Package tcpbroadcast runs the raw TCP fan-out: display updates are
// batched and tagged, audio is forwarded unbatched, and anything a
// client sends is merged upstream to the serial link.
package tcpbroadcast

import (
	"bufio"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/m8gateway/m8gateway/internal/logx"
)

// Frame tags.
const (
	TagDisplay byte = 0x44
	TagAudio   byte = 0x41
)

const (
	defaultBatchInterval = 5 * time.Millisecond
	maxBatchInterval     = 16 * time.Millisecond

	// maxFramePayload is the largest payload a u16 length prefix can
	// carry; a bigger batch is split across multiple display packets.
	maxFramePayload = 0xFFFF
)

// Broadcaster accepts TCP clients on a single port and fans display and
// audio frames out to all of them, batching display frames on a short
// timer and forwarding audio frames immediately.
type Broadcaster struct {
	batchInterval time.Duration

	// UpstreamSink receives bytes read back from any connected client,
	// merged verbatim, and is expected to forward them to the serial
	// link's Write.
	UpstreamSink func([]byte)

	mu      sync.Mutex
	clients map[*client]struct{}

	pendingMu sync.Mutex
	pending   []byte

	listener net.Listener
	closed   chan struct{}
}

type client struct {
	conn net.Conn
	out  chan []byte
}

// New returns a broadcaster with the default 5ms batch interval.
func New() *Broadcaster {
	return &Broadcaster{
		batchInterval: defaultBatchInterval,
		clients:       make(map[*client]struct{}),
		closed:        make(chan struct{}),
	}
}

// SetBatchInterval overrides the default batching timer, clamped to a
// 16ms ceiling so display updates never lag a full frame behind.
func (b *Broadcaster) SetBatchInterval(d time.Duration) {
	if d <= 0 {
		d = defaultBatchInterval
	}
	if d > maxBatchInterval {
		d = maxBatchInterval
	}
	b.batchInterval = d
}

// Listen starts accepting connections on addr (e.g. ":3333") and begins
// the batch-flush timer. It returns once the listener is bound; Accept
// runs in the background.
func (b *Broadcaster) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	b.listener = ln
	go b.acceptLoop(ln)
	go b.flushLoop()
	return nil
}

func (b *Broadcaster) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.closed:
				return
			default:
				logx.Warnf("TCP: accept error: %v", err)
				return
			}
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		c := &client{conn: conn, out: make(chan []byte, 64)}
		b.mu.Lock()
		b.clients[c] = struct{}{}
		b.mu.Unlock()
		go b.writePump(c)
		go b.readPump(c)
	}
}

func (b *Broadcaster) writePump(c *client) {
	for frame := range c.out {
		if _, err := c.conn.Write(frame); err != nil {
			b.removeClient(c)
			return
		}
	}
}

func (b *Broadcaster) readPump(c *client) {
	defer b.removeClient(c)
	r := bufio.NewReader(c.conn)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && b.UpstreamSink != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			b.UpstreamSink(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (b *Broadcaster) removeClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.out)
	}
	b.mu.Unlock()
	c.conn.Close()
}

// QueueDisplay appends a display command's bytes to the pending batch;
// it is flushed at most once per batch interval, tagged and
// length-prefixed.
func (b *Broadcaster) QueueDisplay(payload []byte) {
	b.pendingMu.Lock()
	b.pending = append(b.pending, payload...)
	b.pendingMu.Unlock()
}

// SendAudio forwards an audio frame to every client immediately,
// bypassing the display batch timer.
func (b *Broadcaster) SendAudio(payload []byte) {
	b.broadcast(frame(TagAudio, payload))
}

func (b *Broadcaster) flushLoop() {
	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.closed:
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *Broadcaster) flush() {
	b.pendingMu.Lock()
	if len(b.pending) == 0 {
		b.pendingMu.Unlock()
		return
	}
	payload := b.pending
	b.pending = nil
	b.pendingMu.Unlock()

	for len(payload) > maxFramePayload {
		b.broadcast(frame(TagDisplay, payload[:maxFramePayload]))
		payload = payload[maxFramePayload:]
	}
	if len(payload) > 0 {
		b.broadcast(frame(TagDisplay, payload))
	}
}

func frame(tag byte, payload []byte) []byte {
	out := make([]byte, 1+2+len(payload))
	out[0] = tag
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[3:], payload)
	return out
}

func (b *Broadcaster) broadcast(wire []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.out <- wire:
		default:
			// client too slow to keep up; drop this frame for it rather
			// than block the whole fan-out.
		}
	}
}

// ClientCount reports how many clients are currently connected.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close flushes any pending batch, disconnects every client, and stops
// accepting new connections. Best-effort: write errors during the final
// flush are ignored.
func (b *Broadcaster) Close() error {
	select {
	case <-b.closed:
		return nil
	default:
		close(b.closed)
	}
	b.flush()

	if b.listener != nil {
		b.listener.Close()
	}

	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*client]struct{})
	b.mu.Unlock()

	for _, c := range clients {
		close(c.out)
		c.conn.Close()
	}
	return nil
}
