package engine

import (
	"testing"
	"time"

	"github.com/curvedinf/razor/pkg/transport"
	"github.com/curvedinf/razor/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) *transport.Connection {
	t.Helper()
	conn, err := transport.Open(0, transport.Any)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDaemonRejectsStaleCommand(t *testing.T) {
	e := NewDaemon(newTestConn(t), nil)
	e.localTickNumber = 1000

	payload, err := wire.EncodeCommandBatch([]wire.CommandRecord{{Tick: 999, Bytes: []byte("move")}})
	require.NoError(t, err)
	env := &wire.Envelope{Type: wire.MessageCommand, TickNumber: 1000, Payload: payload}

	require.NoError(t, e.handleCommand("127.0.0.1:1", env))
	assert.Empty(t, e.outgoingCommands)
}

func TestDaemonRejectsFarFutureCommand(t *testing.T) {
	e := NewDaemon(newTestConn(t), nil)
	e.localTickNumber = 1000

	payload, err := wire.EncodeCommandBatch([]wire.CommandRecord{{Tick: 1000 + MaxFutureCommandTicks + 1, Bytes: []byte("x")}})
	require.NoError(t, err)
	env := &wire.Envelope{Type: wire.MessageCommand, Payload: payload}

	require.NoError(t, e.handleCommand("127.0.0.1:1", env))
	assert.Empty(t, e.outgoingCommands)
}

func TestDaemonAcceptsInWindowCommand(t *testing.T) {
	e := NewDaemon(newTestConn(t), nil)
	e.localTickNumber = 1000

	payload, err := wire.EncodeCommandBatch([]wire.CommandRecord{{Tick: 1500, Bytes: []byte("jump")}})
	require.NoError(t, err)
	env := &wire.Envelope{Type: wire.MessageCommand, Payload: payload}

	require.NoError(t, e.handleCommand("127.0.0.1:1", env))
	require.Len(t, e.outgoingCommands, 1)
	assert.Equal(t, uint64(1500), e.outgoingCommands[0].tick)
}

func TestCommandBatchingCeilingSplit(t *testing.T) {
	e := NewDaemon(newTestConn(t), nil)
	for i := 0; i < 7; i++ {
		require.NoError(t, e.Command([]byte("cmd")))
	}

	require.NoError(t, e.batchOutgoingCommands(10))
	require.Len(t, e.outbound, 2)

	records0, err := wire.DecodeCommandBatch(e.outbound[0].env.Payload)
	require.NoError(t, err)
	records1, err := wire.DecodeCommandBatch(e.outbound[1].env.Payload)
	require.NoError(t, err)

	assert.Len(t, records0, 5)
	assert.Len(t, records1, 2)
	assert.Empty(t, e.outgoingCommands)
}

func TestFirstPingFutureTimeSeed(t *testing.T) {
	e := NewSlave(newTestConn(t), "127.0.0.1:9999", nil)
	e.zeroTime = time.Now()

	echoedStart := time.Now().Add(-60 * time.Millisecond).UnixNano()
	env := &wire.Envelope{
		Type:        wire.MessagePong,
		TimestampNs: uint64(e.zeroTime.UnixNano()),
		Payload: wire.EncodePongPayload(wire.PongPayload{
			EchoedStartTs:  uint64(echoedStart),
			DaemonZeroTime: uint64(e.zeroTime.UnixNano()),
		}),
	}

	require.NoError(t, e.handlePong(env))
	assert.InDelta(t, 72*float64(time.Millisecond), float64(e.FutureTime()), float64(10*time.Millisecond))
}

func TestFirstSyncGraceAdvancesBootstrap(t *testing.T) {
	e := NewSlave(newTestConn(t), "127.0.0.1:9999", nil)

	env := &wire.Envelope{
		Type:    wire.MessageSync,
		Payload: wire.EncodeSyncPayload(wire.SyncPayload{DaemonTick: 1, State: []byte("state")}),
	}
	require.NoError(t, e.handleSync(env))
	assert.Equal(t, StateFirstSyncReceived, e.BootstrapState())

	// Simulate 500ms having elapsed since the first SYNC.
	e.slave.firstSyncAt = time.Now().Add(-CreatePlayerGrace)
	e.advanceBootstrap(time.Now())
	assert.Equal(t, StateCreatePlayerArmed, e.BootstrapState())

	// Simulate a further 5ms having elapsed.
	e.slave.setTeamArmedAt = time.Now().Add(-SetTeamGrace)
	e.advanceBootstrap(time.Now())
	assert.Equal(t, StateSetTeamArmed, e.BootstrapState())

	e.advanceBootstrap(time.Now())
	assert.Equal(t, StateSteady, e.BootstrapState())
}

func TestSlavePreFirstPingCommandsAreCleared(t *testing.T) {
	e := NewSlave(newTestConn(t), "127.0.0.1:9999", nil)
	require.NoError(t, e.Command([]byte("move")))
	require.Len(t, e.outgoingCommands, 1)

	require.NoError(t, e.batchOutgoingCommands(10))
	assert.Empty(t, e.outgoingCommands)
	assert.Empty(t, e.outbound)

	e.slave.firstPingReceived = true
	require.NoError(t, e.Command([]byte("move")))
	require.NoError(t, e.batchOutgoingCommands(20))
	assert.Len(t, e.outbound, 1)
}

func TestCommandOutOfRange(t *testing.T) {
	e := NewDaemon(newTestConn(t), nil)
	err := e.Command(make([]byte, wire.MaxCommandLength+1))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestStateHookMissingOnBroadcast(t *testing.T) {
	e := NewDaemon(newTestConn(t), nil)
	err := e.broadcastSync(0)
	assert.ErrorIs(t, err, ErrStateHookMissing)
}
