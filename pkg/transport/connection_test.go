package transport

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/curvedinf/razor/pkg/wire"
	"github.com/stretchr/testify/require"
)

func mustOpen(t *testing.T) (*Connection, int) {
	t.Helper()
	conn, err := Open(0, Any)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(conn.conn.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return conn, port
}

func receiveWithRetry(t *testing.T, conn *Connection) (string, []byte, bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		peer, msg, ok, err := conn.Receive()
		require.NoError(t, err)
		if ok {
			return peer, msg, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "", nil, false
}

func TestSmallMessageLoopback(t *testing.T) {
	a, portA := mustOpen(t)
	defer a.Close()
	b, _ := mustOpen(t)
	defer b.Close()

	target := "127.0.0.1:" + strconv.Itoa(portA)
	require.NoError(t, b.Send(target, []byte("Hello world")))

	_, msg, ok := receiveWithRetry(t, a)
	require.True(t, ok)
	require.Equal(t, "Hello world", string(msg))

	_, _, ok, err := a.Receive()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLargeMessageMultipart(t *testing.T) {
	a, portA := mustOpen(t)
	defer a.Close()
	b, _ := mustOpen(t)
	defer b.Close()

	blob := make([]byte, 900)
	for i := range blob {
		blob[i] = byte('a' + i%26)
	}

	target := "127.0.0.1:" + strconv.Itoa(portA)
	require.NoError(t, b.Send(target, blob))

	_, msg, ok := receiveWithRetry(t, a)
	require.True(t, ok)
	require.Equal(t, blob, msg)

	_, _, ok, err := a.Receive()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDuplicateRejection(t *testing.T) {
	a, portA := mustOpen(t)
	defer a.Close()

	raw, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer raw.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: portA}

	datagram := buildRawDatagram(t, 7, 1, 0, []byte("duplicate me"))
	_, err = raw.WriteToUDP(datagram, addr)
	require.NoError(t, err)
	_, err = raw.WriteToUDP(datagram, addr)
	require.NoError(t, err)

	_, msg, ok := receiveWithRetry(t, a)
	require.True(t, ok)
	require.Equal(t, "duplicate me", string(msg))

	time.Sleep(50 * time.Millisecond)
	_, _, ok, err = a.Receive()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMultipartTotalMismatchDoesNotPanic(t *testing.T) {
	a, portA := mustOpen(t)
	defer a.Close()

	raw, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer raw.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: portA}

	// First part of a 2-part message at firstID=10.
	partA := buildRawDatagram(t, 10, 2, 0, []byte("part-zero-"))
	_, err = raw.WriteToUDP(partA, addr)
	require.NoError(t, err)

	// A colliding firstID (15-5=10) declaring a larger total than the entry
	// was created with; index 5 is out of range for the 2-slot entry and
	// must be dropped rather than panic.
	collide := buildRawDatagram(t, 15, 8, 5, []byte("intruder"))
	_, err = raw.WriteToUDP(collide, addr)
	require.NoError(t, err)

	// The real second part completes the original 2-part message.
	partB := buildRawDatagram(t, 11, 2, 1, []byte("part-one--"))
	_, err = raw.WriteToUDP(partB, addr)
	require.NoError(t, err)

	_, msg, ok := receiveWithRetry(t, a)
	require.True(t, ok)
	require.Equal(t, "part-zero-part-one--", string(msg))
}

func TestMultipartPermutationInvariance(t *testing.T) {
	a, portA := mustOpen(t)
	defer a.Close()

	raw, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer raw.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: portA}

	parts := [][]byte{[]byte("part-zero-"), []byte("part-one--"), []byte("part-two--")}
	// Arrival order differs from index order.
	order := []int{2, 0, 1}
	for _, idx := range order {
		datagram := buildRawDatagram(t, uint32(100+idx), 3, uint8(idx), parts[idx])
		_, err := raw.WriteToUDP(datagram, addr)
		require.NoError(t, err)
	}

	_, msg, ok := receiveWithRetry(t, a)
	require.True(t, ok)
	require.Equal(t, "part-zero-part-one--part-two--", string(msg))
}

// buildRawDatagram hand-frames a single-part multipart datagram matching
// Connection's own wire layout, for tests that need to drive the receiver
// with a raw socket instead of another Connection.
func buildRawDatagram(t *testing.T, id uint32, total, index uint8, payload []byte) []byte {
	t.Helper()
	pkt := &wire.Packet{
		ID: id,
		Segments: []wire.Segment{
			{'M', total, index},
			payload,
		},
	}
	data, err := pkt.Serialize()
	require.NoError(t, err)
	return data
}
