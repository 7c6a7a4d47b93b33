// Package restapi exposes the gateway's REST surface: screen snapshots,
// button/key/note input, serial port management, tracked state, and the
// supplemental diagnostics/mirror status endpoints. Every route is
// wrapped in the blanket CORS policy browsers need to reach it from a
// page served elsewhere.
package restapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/m8gateway/m8gateway/internal/audio"
	"github.com/m8gateway/m8gateway/internal/diag"
	"github.com/m8gateway/m8gateway/internal/fanout"
	"github.com/m8gateway/m8gateway/internal/input"
	"github.com/m8gateway/m8gateway/internal/logx"
	"github.com/m8gateway/m8gateway/internal/mirror"
	"github.com/m8gateway/m8gateway/internal/serial"
	"github.com/m8gateway/m8gateway/internal/tcpbroadcast"
)

// SerialLink is the subset of *serial.Link the API needs to report and
// redirect the device connection.
type SerialLink interface {
	Connected() bool
	Path() string
	SetExplicitPath(path string)
	Reconnect() (path string, ok bool)
	Reset() error
}

// Deps bundles every component a route handler reaches into. Diag and
// Mirror are optional (nil disables their endpoints with a 404).
type Deps struct {
	Coordinator *fanout.Coordinator
	Link        SerialLink
	Encoder     *input.Encoder
	TCP         *tcpbroadcast.Broadcaster
	Diag        *diag.Store
	Mirror      *mirror.Mirror
	WebRTC      *audio.WebRTCEgress // optional low-latency audio egress negotiation; nil disables its endpoints with a 404
	Audio       *audio.Hub          // nil disables /api/audio/record/* with a 404

	rec *recordingSession // lazily initialized by NewMux; tracks the in-progress diag row id
}

// recordingSession tracks the diag-store row id for the in-progress
// recording, so stopping it can mark the row closed. Guarded by mu
// because REST handlers run on arbitrary goroutines.
type recordingSession struct {
	mu sync.Mutex
	id int64
	ok bool
}

// NewMux builds the full route table, wrapped in CORS.
func NewMux(d Deps) http.Handler {
	d.rec = &recordingSession{}
	mux := http.NewServeMux()

	handleGet(mux, "/api/health", d.handleHealth)
	handleGet(mux, "/api/screen", d.handleScreen)
	handleGet(mux, "/api/screen/text", d.handleScreenText)
	handleGet(mux, "/api/screen/image", d.handleScreenImage)
	handleGet(mux, "/api/state", d.handleState)
	handleGet(mux, "/api/ports", d.handlePorts)
	handleGet(mux, "/api/diag", d.handleDiag)
	handleGet(mux, "/api/mirror", d.handleMirror)

	mux.HandleFunc("/api/key/", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		d.handlePressKey(w, r)
	})
	handlePost(mux, "/api/keys", d.handlePressKeys)
	handlePost(mux, "/api/raw", d.handlePressRaw)
	handlePost(mux, "/api/note", d.handleNoteOn)
	handlePostAction(mux, "/api/note/off", d.handleNoteOff)
	handlePostAction(mux, "/api/reset", d.handleReset)
	handlePost(mux, "/api/port", d.handleSetPort)
	handlePostAction(mux, "/api/reconnect", d.handleReconnect)
	handlePost(mux, "/api/audio/webrtc/offer", d.handleWebRTCOffer)
	handlePost(mux, "/api/audio/webrtc/answer", d.handleWebRTCAnswer)
	handlePost(mux, "/api/audio/record/start", d.handleRecordStart)
	handlePostAction(mux, "/api/audio/record/stop", d.handleRecordStop)

	return withCORS(mux)
}

type healthResponse struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port"`
	Clients   int    `json:"clients"`
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Connected: d.Link.Connected(), Port: d.Link.Path()}
	if d.TCP != nil {
		resp.Clients = d.TCP.ClientCount()
	}
	writeJSON(w, resp)
}

type cursorJSON struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (d Deps) handleScreen(w http.ResponseWriter, r *http.Request) {
	rows, cur := d.Coordinator.GridRows()
	writeJSON(w, struct {
		Rows       []string   `json:"rows"`
		Cursor     cursorJSON `json:"cursor"`
		LastUpdate int64      `json:"lastUpdate"`
	}{
		Rows:       rows,
		Cursor:     cursorJSON{Row: cur.Row, Col: cur.Col},
		LastUpdate: time.Now().UnixMilli(),
	})
}

func (d Deps) handleScreenText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(d.Coordinator.GridText()))
}

func (d Deps) handleScreenImage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/bmp")
	w.Write(d.Coordinator.ScreenBMP())
}

func (d Deps) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.Coordinator.State().Snapshot())
}

type portInfo struct {
	Path         string `json:"path"`
	Manufacturer string `json:"manufacturer"`
	VendorID     int    `json:"vendorId"`
	ProductID    int    `json:"productId"`
	IsM8         bool   `json:"isM8"`
}

func (d Deps) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := serial.EnumeratePorts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cfg := serial.DefaultConfig()
	out := make([]portInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, portInfo{
			Path:         p.Path,
			Manufacturer: p.Manufacturer,
			VendorID:     int(p.VendorID),
			ProductID:    int(p.ProductID),
			IsM8:         p.IsM8(cfg.VendorID, cfg.ProductIDs),
		})
	}
	writeJSON(w, struct {
		Ports []portInfo `json:"ports"`
	}{Ports: out})
}

func (d Deps) handleDiag(w http.ResponseWriter, r *http.Request) {
	if d.Diag == nil {
		http.NotFound(w, r)
		return
	}
	stats := d.Coordinator.CacheStats()
	if err := d.Diag.RecordCacheStats(stats.Sent, stats.Skipped, stats.Ratio); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	history, err := d.Diag.RecentCacheStats(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sessions, err := d.Diag.ListRecordingSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Current  diag.CacheStatsSample   `json:"current"`
		History  []diag.CacheStatsSample `json:"history"`
		Sessions []diag.RecordingSession `json:"recordingSessions"`
	}{
		Current:  diag.CacheStatsSample{Sent: stats.Sent, Skipped: stats.Skipped, Ratio: stats.Ratio},
		History:  history,
		Sessions: sessions,
	})
}

func (d Deps) handleMirror(w http.ResponseWriter, r *http.Request) {
	if d.Mirror == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, struct {
		PeerID string   `json:"peerId"`
		Peers  []string `json:"peers"`
	}{PeerID: d.Mirror.ID(), Peers: d.Mirror.Peers()})
}

func (d Deps) handlePressKey(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[len("/api/key/"):]
	if name == "" {
		http.Error(w, "missing key name", http.StatusBadRequest)
		return
	}
	if err := d.Encoder.PressKey(name); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, struct {
			Ok  bool   `json:"ok"`
			Key string `json:"key"`
		}{Ok: false, Key: name})
		return
	}
	writeJSON(w, struct {
		Ok  bool   `json:"ok"`
		Key string `json:"key"`
	}{Ok: true, Key: name})
}

type keysRequest struct {
	Hold  []string `json:"hold"`
	Press []string `json:"press"`
}

func (d Deps) handlePressKeys(w http.ResponseWriter, r *http.Request, req keysRequest) {
	if err := d.Encoder.PressCombo(req.Hold, req.Press); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, struct {
		Ok    bool     `json:"ok"`
		Hold  []string `json:"hold"`
		Press []string `json:"press"`
	}{Ok: true, Hold: req.Hold, Press: req.Press})
}

type rawRequest struct {
	Bitmask int   `json:"bitmask"`
	HoldMS  int   `json:"holdMs"`
	Release *bool `json:"release"`
}

func (d Deps) handlePressRaw(w http.ResponseWriter, r *http.Request, req rawRequest) {
	if req.Bitmask < 0 || req.Bitmask > 255 {
		http.Error(w, "bitmask must be 0..255", http.StatusBadRequest)
		return
	}
	holdMS := req.HoldMS
	if holdMS <= 0 {
		holdMS = 50
	}
	release := true
	if req.Release != nil {
		release = *req.Release
	}
	if err := d.Encoder.PressRawAsync(byte(req.Bitmask), time.Duration(holdMS)*time.Millisecond, release); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Ok      bool `json:"ok"`
		Bitmask int  `json:"bitmask"`
		HoldMS  int  `json:"holdMs"`
	}{Ok: true, Bitmask: req.Bitmask, HoldMS: holdMS})
}

type noteRequest struct {
	Note     int  `json:"note"`
	Velocity *int `json:"vel"`
}

func (d Deps) handleNoteOn(w http.ResponseWriter, r *http.Request, req noteRequest) {
	vel := 100
	if req.Velocity != nil {
		vel = *req.Velocity
	}
	if err := d.Encoder.NoteOn(byte(req.Note), byte(vel)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Ok   bool `json:"ok"`
		Note int  `json:"note"`
		Vel  int  `json:"vel"`
	}{Ok: true, Note: req.Note, Vel: vel})
}

func (d Deps) handleNoteOff(w http.ResponseWriter, r *http.Request) {
	if err := d.Encoder.NoteOff(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Ok bool `json:"ok"`
	}{Ok: true})
}

// handleReset empties the delta cache and asks the device for a full
// redraw, so every consumer converges on a freshly drawn screen. The
// device write is best-effort; with no device attached the cache reset
// alone still succeeds.
func (d Deps) handleReset(w http.ResponseWriter, r *http.Request) {
	d.Coordinator.ResetCache()
	if err := d.Link.Reset(); err != nil {
		logx.Warnf("API: device reset: %v", err)
	}
	writeJSON(w, struct {
		Ok bool `json:"ok"`
	}{Ok: true})
}

type portRequest struct {
	Port string `json:"port"`
}

func (d Deps) handleSetPort(w http.ResponseWriter, r *http.Request, req portRequest) {
	d.Link.SetExplicitPath(req.Port)
	writeJSON(w, struct {
		Status string `json:"status"`
		Port   string `json:"port"`
	}{Status: "ok", Port: req.Port})
}

func (d Deps) handleReconnect(w http.ResponseWriter, r *http.Request) {
	path, ok := d.Link.Reconnect()
	status := "ok"
	if !ok {
		status = "failed"
	}
	writeJSON(w, struct {
		Status    string `json:"status"`
		Port      string `json:"port"`
		Connected bool   `json:"connected"`
	}{Status: status, Port: path, Connected: ok})
}

type recordStartRequest struct {
	Path string `json:"path"`
}

// handleRecordStart begins mirroring every ingested PCM chunk to a file
// (at most one recording active at a time) and, if the diagnostics
// store is available, logs the session so /api/diag can list it.
func (d Deps) handleRecordStart(w http.ResponseWriter, r *http.Request, req recordStartRequest) {
	if d.Audio == nil {
		http.NotFound(w, r)
		return
	}
	if req.Path == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}
	if err := d.Audio.StartRecording(req.Path); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if d.Diag != nil {
		if id, err := d.Diag.StartRecordingSession(req.Path); err == nil {
			d.rec.mu.Lock()
			d.rec.id, d.rec.ok = id, true
			d.rec.mu.Unlock()
		}
	}
	writeJSON(w, struct {
		Ok   bool   `json:"ok"`
		Path string `json:"path"`
	}{Ok: true, Path: req.Path})
}

// handleRecordStop stops the active recording, if any, and marks the
// diag-store session closed.
func (d Deps) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if d.Audio == nil {
		http.NotFound(w, r)
		return
	}
	d.Audio.StopRecording()
	if d.Diag != nil {
		d.rec.mu.Lock()
		id, ok := d.rec.id, d.rec.ok
		d.rec.ok = false
		d.rec.mu.Unlock()
		if ok {
			d.Diag.StopRecordingSession(id)
		}
	}
	writeJSON(w, struct {
		Ok bool `json:"ok"`
	}{Ok: true})
}

type webrtcOfferRequest struct {
	SessionID string `json:"sessionId"`
}

// handleWebRTCOffer negotiates a new low-latency audio session alongside
// the required /audio WebSocket channel; absent a configured egress it
// 404s rather than pretending the feature exists.
func (d Deps) handleWebRTCOffer(w http.ResponseWriter, r *http.Request, req webrtcOfferRequest) {
	if d.WebRTC == nil {
		http.NotFound(w, r)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	sdp, err := d.WebRTC.Offer(req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		SessionID string `json:"sessionId"`
		SDP       string `json:"sdp"`
	}{SessionID: req.SessionID, SDP: sdp})
}

type webrtcAnswerRequest struct {
	SessionID string `json:"sessionId"`
	SDP       string `json:"sdp"`
}

func (d Deps) handleWebRTCAnswer(w http.ResponseWriter, r *http.Request, req webrtcAnswerRequest) {
	if d.WebRTC == nil {
		http.NotFound(w, r)
		return
	}
	if err := d.WebRTC.Answer(req.SessionID, req.SDP); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, struct {
		Ok bool `json:"ok"`
	}{Ok: true})
}
