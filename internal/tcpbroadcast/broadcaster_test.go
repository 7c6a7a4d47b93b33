package tcpbroadcast

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dialLocal(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn net.Conn) (byte, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header := make([]byte, 3)
	_, err := readFull(conn, header)
	require.NoError(t, err)
	n := binary.BigEndian.Uint16(header[1:3])
	payload := make([]byte, n)
	_, err = readFull(conn, payload)
	require.NoError(t, err)
	return header[0], payload
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestDisplayBatchIsTaggedAndLengthPrefixed(t *testing.T) {
	b := New()
	b.SetBatchInterval(2 * time.Millisecond)
	require.NoError(t, b.Listen("127.0.0.1:0"))
	defer b.Close()

	addr := b.listener.Addr().String()
	conn := dialLocal(t, addr)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, time.Millisecond)

	b.QueueDisplay([]byte{0xFD, 1, 2, 3})

	tag, payload := readFrame(t, conn)
	require.Equal(t, TagDisplay, tag)
	require.Equal(t, []byte{0xFD, 1, 2, 3}, payload)
}

func TestAudioBypassesBatchTimer(t *testing.T) {
	b := New()
	b.SetBatchInterval(time.Hour) // would never flush display in time
	require.NoError(t, b.Listen("127.0.0.1:0"))
	defer b.Close()

	addr := b.listener.Addr().String()
	conn := dialLocal(t, addr)
	defer conn.Close()
	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, time.Millisecond)

	b.SendAudio([]byte{1, 2, 3, 4})
	tag, payload := readFrame(t, conn)
	require.Equal(t, TagAudio, tag)
	require.Equal(t, []byte{1, 2, 3, 4}, payload)
}

func TestClientBytesForwardUpstream(t *testing.T) {
	b := New()
	received := make(chan []byte, 1)
	b.UpstreamSink = func(chunk []byte) { received <- chunk }
	require.NoError(t, b.Listen("127.0.0.1:0"))
	defer b.Close()

	addr := b.listener.Addr().String()
	conn := dialLocal(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte{0xAA, 0xBB})
	require.NoError(t, err)

	select {
	case chunk := <-received:
		require.Equal(t, []byte{0xAA, 0xBB}, chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upstream forward")
	}
}

func TestBatchIntervalClampedToUpperBound(t *testing.T) {
	b := New()
	b.SetBatchInterval(time.Second)
	require.Equal(t, maxBatchInterval, b.batchInterval)
}

func TestSlowClientDoesNotBlockOthers(t *testing.T) {
	b := New()
	b.SetBatchInterval(2 * time.Millisecond)
	require.NoError(t, b.Listen("127.0.0.1:0"))
	defer b.Close()

	addr := b.listener.Addr().String()
	slow := dialLocal(t, addr)
	defer slow.Close()
	fast := dialLocal(t, addr)
	defer fast.Close()

	require.Eventually(t, func() bool { return b.ClientCount() == 2 }, time.Second, time.Millisecond)

	for i := 0; i < 200; i++ {
		b.SendAudio([]byte{byte(i)})
	}

	tag, _ := readFrame(t, fast)
	require.Equal(t, TagAudio, tag)
}
