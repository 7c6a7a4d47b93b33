package audio

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/m8gateway/m8gateway/internal/logx"
)

const (
	frameTagPCM     byte = 0x00
	frameTagControl byte = 0x01

	// ringCapacity is sized for roughly 2 seconds of 44.1kHz/16-bit/stereo
	// PCM, enough for a late-joining consumer's catch-up window even
	// though catch-up replay is not currently exposed on any transport.
	ringCapacity = 44100 * 2 * 2 * 2
)

// Sink receives framed audio bytes; it is how the hub reaches WebSocket
// and TCP consumers without owning their connection sets itself — those
// sets belong to the WebSocket hub and the TCP broadcaster.
type Sink func(frame []byte)

// ControlMessage is a status/error/control envelope the hub can publish
// alongside PCM data on the same logical channel.
type ControlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Hub distributes PCM chunks arriving from a capture backend to
// consumers, optionally records them to a file, and retains recent audio
// in a ring buffer for potential late-join catch-up.
type Hub struct {
	ring *RingBuffer

	mu         sync.Mutex
	audioSinks []Sink
	tcpSink    Sink

	recMu  sync.Mutex
	record *os.File
}

// New returns a hub backed by an overwrite-on-full ring buffer sized for
// a couple of seconds of audio.
func New() *Hub {
	return &Hub{ring: NewRingBuffer(ringCapacity, true)}
}

// AddAudioSink registers a callback invoked with every framed PCM/control
// chunk — used for the WebSocket /audio broadcast (one callback that
// reaches every /audio socket) and other audio egress paths.
func (h *Hub) AddAudioSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audioSinks = append(h.audioSinks, s)
}

// SetTCPSink installs the single callback used to push framed audio
// packets to the TCP broadcaster; TCP consumers are multiplexed
// downstream of that one sink.
func (h *Hub) SetTCPSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tcpSink = s
}

// Ingest is called by a capture backend for every chunk of raw PCM read
// from the device. It stores the chunk, frames it for every consumer,
// and appends it to an active recording.
func (h *Hub) Ingest(pcm []byte) {
	if _, err := h.ring.Push(pcm); err != nil {
		logx.Warnf("AUDIO: ring buffer push: %v", err)
	}

	frame := make([]byte, 1+len(pcm))
	frame[0] = frameTagPCM
	copy(frame[1:], pcm)

	h.mu.Lock()
	sinks := append([]Sink(nil), h.audioSinks...)
	tcpSink := h.tcpSink
	h.mu.Unlock()

	for _, sink := range sinks {
		sink(frame)
	}
	if tcpSink != nil {
		tcpSink(frame)
	}

	h.appendRecording(pcm)
}

// PublishControl frames a status/error/control message with the control
// tag and delivers it to audio WebSocket consumers only — TCP clients
// have no channel for out-of-band audio metadata.
func (h *Hub) PublishControl(msg ControlMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logx.Warnf("AUDIO: marshal control message: %v", err)
		return
	}
	frame := make([]byte, 1+len(payload))
	frame[0] = frameTagControl
	copy(frame[1:], payload)

	h.mu.Lock()
	sinks := append([]Sink(nil), h.audioSinks...)
	h.mu.Unlock()
	for _, sink := range sinks {
		sink(frame)
	}
}

// StartRecording creates path (truncating any existing file) and begins
// mirroring every
// ingested PCM chunk into it. At most one recording is active; starting
// a new one first closes the previous.
func (h *Hub) StartRecording(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	h.recMu.Lock()
	defer h.recMu.Unlock()
	if h.record != nil {
		h.record.Close()
	}
	h.record = f
	return nil
}

// StopRecording closes the active recording file, if any.
func (h *Hub) StopRecording() {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	if h.record != nil {
		h.record.Close()
		h.record = nil
	}
}

func (h *Hub) appendRecording(pcm []byte) {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	if h.record == nil {
		return
	}
	if _, err := h.record.Write(pcm); err != nil {
		logx.Warnf("AUDIO: recording write: %v", err)
	}
}

// Ring exposes the backing ring buffer for diagnostics/catch-up use.
func (h *Hub) Ring() *RingBuffer {
	return h.ring
}
