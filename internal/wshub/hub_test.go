package wshub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeInput struct {
	pressed  []string
	combos   [][2][]string
	notesOn  [][2]byte
	notesOff int
}

func (f *fakeInput) PressKey(name string) error {
	f.pressed = append(f.pressed, name)
	return nil
}
func (f *fakeInput) PressCombo(hold, press []string) error {
	f.combos = append(f.combos, [2][]string{hold, press})
	return nil
}
func (f *fakeInput) NoteOn(note, vel byte) error {
	f.notesOn = append(f.notesOn, [2]byte{note, vel})
	return nil
}
func (f *fakeInput) NoteOff() error {
	f.notesOff++
	return nil
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestControlKeyMessageDispatches(t *testing.T) {
	fi := &fakeInput{}
	h := New(fi, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	defer h.Close()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/control"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg, _ := json.Marshal(ControlMessage{Type: "key", Key: "up"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	require.Eventually(t, func() bool {
		return len(fi.pressed) == 1 && fi.pressed[0] == "up"
	}, time.Second, 5*time.Millisecond)
}

func TestControlKeysComboDispatches(t *testing.T) {
	fi := &fakeInput{}
	h := New(nil, nil)
	h.SetInput(fi) // wired late, as the daemon does
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	defer h.Close()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/control"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg, _ := json.Marshal(ControlMessage{Type: "keys", Hold: []string{"shift"}, Press: []string{"up"}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	require.Eventually(t, func() bool {
		return len(fi.combos) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, [2][]string{{"shift"}, {"up"}}, fi.combos[0])
}

func TestControlUnknownMessageIgnored(t *testing.T) {
	fi := &fakeInput{}
	h := New(fi, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	defer h.Close()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/control"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fi.pressed)

	// Connection should still be alive.
	msg, _ := json.Marshal(ControlMessage{Type: "noteOff"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
	require.Eventually(t, func() bool { return fi.notesOff == 1 }, time.Second, 5*time.Millisecond)
}

func TestDisplayBroadcastReachesSubscriber(t *testing.T) {
	h := New(nil, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	defer h.Close()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/display"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.displays) == 1
	}, time.Second, 5*time.Millisecond)

	h.BroadcastDisplay([]byte{0xFD, 1, 2})

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{0xFD, 1, 2}, data)
}

func TestScreenLoopSkipsWhenNoSubscribers(t *testing.T) {
	calls := 0
	h := New(nil, func() []byte {
		calls++
		return []byte{1}
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	defer h.Close()

	time.Sleep(3 * screenInterval)
	require.Equal(t, 0, calls)
}
