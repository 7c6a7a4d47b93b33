// Package wshub serves the four WebSocket channels the browser/remote
// clients use: /control (input in, JSON), /screen (periodic BMP
// snapshots), /display (raw serial bytes, before decoding), and /audio (framed
// PCM/control messages).
package wshub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/m8gateway/m8gateway/internal/logx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ControlMessage is the JSON schema accepted on /control. Unknown or
// malformed messages are ignored without dropping the connection.
type ControlMessage struct {
	Type  string   `json:"type"`
	Key   string   `json:"key,omitempty"`
	Hold  []string `json:"hold,omitempty"`
	Press []string `json:"press,omitempty"`
	Note  byte     `json:"note,omitempty"`
	Vel   byte     `json:"vel,omitempty"`
}

// InputSink is the subset of the input encoder the control channel
// drives.
type InputSink interface {
	PressKey(name string) error
	PressCombo(hold, press []string) error
	NoteOn(note, velocity byte) error
	NoteOff() error
}

const screenInterval = 100 * time.Millisecond // 10fps

// ScreenSource supplies the current screen snapshot on demand.
type ScreenSource func() []byte

// Hub owns the four consumer sets and serves their HTTP handlers.
type Hub struct {
	input  InputSink
	screen ScreenSource

	mu       sync.RWMutex
	controls map[*websocket.Conn]struct{}
	screens  map[*websocket.Conn]struct{}
	displays map[*websocket.Conn]struct{}
	audios   map[*websocket.Conn]struct{}
	sessions map[*websocket.Conn]string

	stop chan struct{}

	// onFirstAudioSubscriber fires when the audio consumer set
	// transitions from empty to non-empty, so a capture backend can be
	// brought up lazily instead of the hub owning its lifecycle.
	onFirstAudioSubscriber func()
}

// OnFirstAudioSubscriber installs a hook invoked the first time an
// /audio consumer connects while no other /audio consumer is present.
func (h *Hub) OnFirstAudioSubscriber(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFirstAudioSubscriber = fn
}

// SetInput installs (or replaces) the input encoder the /control channel
// drives. The hub is constructed before the serial link and encoder
// exist, so this is wired late.
func (h *Hub) SetInput(input InputSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.input = input
}

// SetScreenSource installs the snapshot source the /screen timer reads.
func (h *Hub) SetScreenSource(src ScreenSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.screen = src
}

// New returns a hub. input/screenSrc may be nil; /control then rejects
// messages and /screen serves nothing until both are wired via SetInput
// and SetScreenSource.
func New(input InputSink, screenSrc ScreenSource) *Hub {
	return &Hub{
		input:    input,
		screen:   screenSrc,
		controls: make(map[*websocket.Conn]struct{}),
		screens:  make(map[*websocket.Conn]struct{}),
		displays: make(map[*websocket.Conn]struct{}),
		audios:   make(map[*websocket.Conn]struct{}),
		sessions: make(map[*websocket.Conn]string),
		stop:     make(chan struct{}),
	}
}

// RegisterRoutes wires the four channels onto mux.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/control", h.serveControl)
	mux.HandleFunc("/screen", h.serveScreen)
	mux.HandleFunc("/display", h.serveDisplay)
	mux.HandleFunc("/audio", h.serveAudio)
	go h.screenLoop()
}

// serveControl both accepts input JSON from the client and, once
// registered, receives JSON-serialized decoded display commands pushed
// by BroadcastCommand — the same socket set doubles as command_subs.
func (h *Hub) serveControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Warnf("WSHUB: control upgrade error: %v", err)
		return
	}
	id := h.addConn(h.controls, conn)
	logx.Debugf("WSHUB: session %s connected on /control", id)
	defer h.removeConn(h.controls, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.handleControl(msg)
	}
}

func (h *Hub) handleControl(msg ControlMessage) {
	h.mu.RLock()
	input := h.input
	h.mu.RUnlock()
	if input == nil {
		return
	}
	var err error
	switch msg.Type {
	case "key":
		if msg.Key == "" {
			return
		}
		err = input.PressKey(msg.Key)
	case "keys":
		if len(msg.Press) == 0 {
			return
		}
		err = input.PressCombo(msg.Hold, msg.Press)
	case "note":
		err = input.NoteOn(msg.Note, msg.Vel)
	case "noteOff":
		err = input.NoteOff()
	default:
		return
	}
	if err != nil {
		logx.Warnf("WSHUB: control message %q failed: %v", msg.Type, err)
	}
}

func (h *Hub) serveScreen(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Warnf("WSHUB: screen upgrade error: %v", err)
		return
	}
	id := h.addConn(h.screens, conn)
	logx.Debugf("WSHUB: session %s connected on /screen", id)
	h.drainUntilClosed(conn, h.screens)
}

func (h *Hub) serveDisplay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Warnf("WSHUB: display upgrade error: %v", err)
		return
	}
	id := h.addConn(h.displays, conn)
	logx.Debugf("WSHUB: session %s connected on /display", id)
	h.drainUntilClosed(conn, h.displays)
}

func (h *Hub) serveAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Warnf("WSHUB: audio upgrade error: %v", err)
		return
	}
	id := uuid.NewString()
	h.mu.Lock()
	wasEmpty := len(h.audios) == 0
	h.audios[conn] = struct{}{}
	h.sessions[conn] = id
	fn := h.onFirstAudioSubscriber
	h.mu.Unlock()
	logx.Debugf("WSHUB: session %s connected on /audio", id)
	if wasEmpty && fn != nil {
		fn()
	}
	h.drainUntilClosed(conn, h.audios)
}

// addConn registers conn in set under a freshly minted session id, used
// only for log correlation across connect/disconnect lines — it carries
// no protocol meaning and is never sent to the client.
func (h *Hub) addConn(set map[*websocket.Conn]struct{}, conn *websocket.Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	set[conn] = struct{}{}
	h.sessions[conn] = id
	h.mu.Unlock()
	return id
}

func (h *Hub) removeConn(set map[*websocket.Conn]struct{}, conn *websocket.Conn) {
	h.mu.Lock()
	delete(set, conn)
	id := h.sessions[conn]
	delete(h.sessions, conn)
	h.mu.Unlock()
	if id != "" {
		logx.Debugf("WSHUB: session %s closed", id)
	}
	conn.Close()
}

// drainUntilClosed reads (and discards) client frames until the socket
// errors or closes, so ping/pong control frames are serviced and the
// connection's death is detected promptly.
func (h *Hub) drainUntilClosed(conn *websocket.Conn, set map[*websocket.Conn]struct{}) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.removeConn(set, conn)
			return
		}
	}
}

// snapshot copies the live consumer set under lock so broadcasting never
// mutates (or races with) the set being iterated.
func snapshot(set map[*websocket.Conn]struct{}) []*websocket.Conn {
	out := make([]*websocket.Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcast(set map[*websocket.Conn]struct{}, mt int, payload []byte) {
	h.mu.RLock()
	conns := snapshot(set)
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteMessage(mt, payload); err != nil {
			h.removeConn(set, c)
		}
	}
}

// BroadcastDisplay fans raw serial chunks, as read and before decoding,
// out to /display subscribers.
func (h *Hub) BroadcastDisplay(raw []byte) {
	h.broadcast(h.displays, websocket.BinaryMessage, raw)
}

// BroadcastCommand fans a JSON-serialized decoded display command out
// to /control subscribers (command_subs).
func (h *Hub) BroadcastCommand(cmd any) {
	data, err := json.Marshal(cmd)
	if err != nil {
		logx.Warnf("WSHUB: command marshal error: %v", err)
		return
	}
	h.broadcast(h.controls, websocket.TextMessage, data)
}

// BroadcastAudio fans an already-tagged PCM/control audio frame out to
// /audio subscribers.
func (h *Hub) BroadcastAudio(frame []byte) {
	h.broadcast(h.audios, websocket.BinaryMessage, frame)
}

func (h *Hub) screenLoop() {
	ticker := time.NewTicker(screenInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.mu.RLock()
			src := h.screen
			empty := len(h.screens) == 0
			h.mu.RUnlock()
			if src == nil || empty {
				continue
			}
			h.broadcast(h.screens, websocket.BinaryMessage, src())
		}
	}
}

// Close stops the screen timer and disconnects every subscriber.
func (h *Hub) Close() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range []map[*websocket.Conn]struct{}{h.controls, h.screens, h.displays, h.audios} {
		for c := range set {
			c.Close()
			delete(set, c)
		}
	}
}
