// Package engine implements Razor's synchronization state machine (C4): the
// daemon/slave roles, ping-based clock estimation, command batching with
// tick-gating, periodic full-state broadcast, and the slave bootstrap
// sub-state machine, layered on top of a pkg/transport.Connection.
package engine

import (
	"errors"
	"time"

	"github.com/curvedinf/razor/pkg/adapter"
	"github.com/curvedinf/razor/pkg/logging"
	"github.com/curvedinf/razor/pkg/transport"
	"github.com/curvedinf/razor/pkg/wire"
	"go.uber.org/zap"
)

// Role is the role-tagged variant replacing the source's (daemon, slaved)
// boolean pair, per SPEC_FULL.md §4.1: a Daemon Engine carries no slave
// runtime at all, so "daemon that is also bootstrapping" is unrepresentable.
type Role int

const (
	RoleDaemon Role = iota
	RoleSlave
)

func (r Role) String() string {
	if r == RoleDaemon {
		return "daemon"
	}
	return "slave"
}

// BootstrapState is the slave's sub-state machine, per spec.md §4.4:
// new -> requested -> first_ping_received -> first_sync_received ->
// create_player_armed (>=500ms) -> set_team_armed (>=5ms) -> steady.
type BootstrapState int

const (
	StateNew BootstrapState = iota
	StateRequested
	StateFirstPingReceived
	StateFirstSyncReceived
	StateCreatePlayerArmed
	StateSetTeamArmed
	StateSteady
)

// Timing and batching constants, carried verbatim from the original
// implementation's RAZOR_SYNC_* constants.
const (
	CreatePlayerGrace        = 500 * time.Millisecond
	SetTeamGrace             = 5 * time.Millisecond
	PingInterval             = 1000 * time.Millisecond
	SyncIntervalTicks        = 250
	CommandBatchIntervalTick = 10
	MaxFutureCommandTicks    = 2000
	FutureTimePingMultiplier = 1.4
	FutureTimeFixedFuture    = 30 * time.Millisecond
	MaxFutureTime            = 1000 * time.Millisecond
	PingLogSize              = 10
)

var (
	ErrHighPingDisconnect = errors.New("engine: slave exceeded max future time, disconnecting")
	ErrStateHookMissing   = errors.New("engine: daemon has no registered produce_state hook")
	ErrOutOfRange         = errors.New("engine: value out of range")
)

type pendingCommand struct {
	tick  uint64
	bytes []byte
}

type outboundMessage struct {
	endpoint string
	env      *wire.Envelope
}

// slaveRuntime holds everything that exists only for a slave-role Engine.
// Its existence (a nil pointer on a daemon Engine) is the tagged-variant
// design note from spec.md §9 applied directly.
type slaveRuntime struct {
	daemonEndpoint string
	bootstrap      BootstrapState
	connected      bool
	disconnected   bool

	pingLog      []time.Duration
	timeDeltaLog []time.Duration

	futureTime           time.Duration
	localTimeDifference  time.Duration
	firstPingReceived    bool
	firstSyncReceived    bool

	nextPingTime   time.Time
	firstSyncAt    time.Time
	setTeamArmedAt time.Time
}

// Engine is a single Razor sync engine instance: one role, one Connection,
// one embedding.
type Engine struct {
	conn *transport.Connection
	role Role

	producer       adapter.StateProducer // daemon only
	slaveEmbedding adapter.SlaveEmbedding // slave only

	localTickNumber uint64
	zeroTime        time.Time

	nextSyncTick uint64
	// lastSyncTick is written on every SYNC broadcast and read by nothing
	// yet; reserved for future delta-sync, per SPEC_FULL.md §9 decision 3.
	lastSyncTick uint64

	slave *slaveRuntime

	outgoingCommands []pendingCommand
	nextCommandTime  uint64

	outbound []outboundMessage
}

// NewDaemon constructs a daemon-role Engine. producer may be nil, but then
// every SYNC broadcast (including the one on the first Tick) and every
// REQUEST_FULL reply fails with ErrStateHookMissing.
func NewDaemon(conn *transport.Connection, producer adapter.StateProducer) *Engine {
	return &Engine{
		conn:     conn,
		role:     RoleDaemon,
		producer: producer,
	}
}

// NewSlave constructs a slave-role Engine bound to daemonEndpoint.
func NewSlave(conn *transport.Connection, daemonEndpoint string, embedding adapter.SlaveEmbedding) *Engine {
	return &Engine{
		conn:           conn,
		role:           RoleSlave,
		slaveEmbedding: embedding,
		slave: &slaveRuntime{
			daemonEndpoint: daemonEndpoint,
			bootstrap:      StateNew,
		},
	}
}

// Role reports this Engine's role.
func (e *Engine) Role() Role { return e.role }

// BootstrapState reports the slave bootstrap sub-state. Calling it on a
// daemon Engine returns StateSteady.
func (e *Engine) BootstrapState() BootstrapState {
	if e.slave == nil {
		return StateSteady
	}
	return e.slave.bootstrap
}

// FutureTime reports the slave's current future-time buffer. Zero on a
// daemon Engine.
func (e *Engine) FutureTime() time.Duration {
	if e.slave == nil {
		return 0
	}
	return e.slave.futureTime
}

// Disconnected reports whether a slave Engine has given up after exceeding
// MaxFutureTime.
func (e *Engine) Disconnected() bool {
	return e.slave != nil && e.slave.disconnected
}

// Close releases the underlying Connection.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// Command pushes (current_local_tick_number, bytes) onto the outbound
// command queue. Commands are never sent immediately; they are aggregated
// for latency smoothing at the next batching boundary.
func (e *Engine) Command(bytes []byte) error {
	if len(bytes) > wire.MaxCommandLength {
		return ErrOutOfRange
	}
	e.outgoingCommands = append(e.outgoingCommands, pendingCommand{
		tick:  e.localTickNumber,
		bytes: append([]byte(nil), bytes...),
	})
	return nil
}

// Tick runs one per-tick procedure: drain inbound messages, run role
// specific periodic work, batch outgoing commands, and flush the outbound
// queue. tickNumber and zeroTime are supplied by the embedding and apply to
// every callback invoked during this call.
func (e *Engine) Tick(tickNumber uint64, zeroTime time.Time) error {
	if e.slave != nil && e.slave.disconnected {
		return ErrHighPingDisconnect
	}

	e.localTickNumber = tickNumber
	e.zeroTime = zeroTime

	for {
		peer, msg, ok, err := e.conn.Receive()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := e.dispatch(peer, msg); err != nil {
			logging.Debug("engine: dropping message", zap.String("peer", peer), zap.Error(err))
		}
	}

	switch e.role {
	case RoleDaemon:
		if err := e.daemonPeriodic(tickNumber); err != nil {
			return err
		}
	case RoleSlave:
		e.slavePeriodic()
	}

	if err := e.batchOutgoingCommands(tickNumber); err != nil {
		return err
	}

	return e.flushOutbound()
}

func (e *Engine) daemonPeriodic(tickNumber uint64) error {
	if e.nextSyncTick <= tickNumber {
		if err := e.broadcastSync(tickNumber); err != nil {
			return err
		}
		e.nextSyncTick = tickNumber + SyncIntervalTicks
	}
	return nil
}

func (e *Engine) broadcastSync(tickNumber uint64) error {
	if e.producer == nil {
		return ErrStateHookMissing
	}
	state, err := e.producer.ProduceState()
	if err != nil {
		return err
	}
	payload := wire.EncodeSyncPayload(wire.SyncPayload{DaemonTick: tickNumber, State: state})
	e.enqueue(transport.Broadcast, wire.MessageSync, payload)
	e.lastSyncTick = tickNumber
	return nil
}

func (e *Engine) slavePeriodic() {
	s := e.slave
	now := time.Now()

	if !s.connected && s.daemonEndpoint != "" {
		e.enqueue(s.daemonEndpoint, wire.MessageRequestFull, nil)
		s.connected = true
		if s.bootstrap < StateRequested {
			s.bootstrap = StateRequested
		}
	}

	e.updateFutureTime()

	if s.nextPingTime.IsZero() || !now.Before(s.nextPingTime) {
		e.enqueue(s.daemonEndpoint, wire.MessagePing, nil)
		s.nextPingTime = now.Add(PingInterval)
	}

	e.advanceBootstrap(now)
}

func (e *Engine) advanceBootstrap(now time.Time) {
	s := e.slave
	switch s.bootstrap {
	case StateFirstSyncReceived:
		if now.Sub(s.firstSyncAt) >= CreatePlayerGrace {
			s.bootstrap = StateCreatePlayerArmed
			s.setTeamArmedAt = now
		}
	case StateCreatePlayerArmed:
		if now.Sub(s.setTeamArmedAt) >= SetTeamGrace {
			s.bootstrap = StateSetTeamArmed
		}
	case StateSetTeamArmed:
		s.bootstrap = StateSteady
	}
}

func (e *Engine) batchOutgoingCommands(tickNumber uint64) error {
	if e.role == RoleSlave && !e.slave.firstPingReceived {
		// A command stamped before the first PONG carries a future_time of
		// zero; the daemon's tick gate would reject it as already in the
		// past, so there is no point accumulating it.
		e.outgoingCommands = e.outgoingCommands[:0]
		return nil
	}

	if e.nextCommandTime >= tickNumber {
		return nil
	}

	endpoint := transport.Broadcast
	if e.role == RoleSlave {
		endpoint = e.slave.daemonEndpoint
	}

	for len(e.outgoingCommands) > 0 {
		n := wire.MaxCommandsPerPacket
		if n > len(e.outgoingCommands) {
			n = len(e.outgoingCommands)
		}
		batch := e.outgoingCommands[:n]
		records := make([]wire.CommandRecord, n)
		for i, c := range batch {
			records[i] = wire.CommandRecord{Tick: c.tick, Bytes: c.bytes}
		}
		payload, err := wire.EncodeCommandBatch(records)
		if err != nil {
			return err
		}
		e.enqueue(endpoint, wire.MessageCommand, payload)
		e.outgoingCommands = e.outgoingCommands[n:]
	}

	e.nextCommandTime = tickNumber + CommandBatchIntervalTick
	return nil
}

func (e *Engine) enqueue(endpoint string, t wire.MessageType, payload []byte) {
	env := &wire.Envelope{
		Type:        t,
		TimestampNs: uint64(time.Now().UnixNano()),
		TickNumber:  e.localTickNumber,
		Payload:     payload,
	}
	e.outbound = append(e.outbound, outboundMessage{endpoint: endpoint, env: env})
}

func (e *Engine) flushOutbound() error {
	for _, m := range e.outbound {
		data := m.env.Serialize()
		var err error
		if m.endpoint == transport.Broadcast {
			err = e.conn.SendAll(data)
		} else {
			err = e.conn.Send(m.endpoint, data)
		}
		if err != nil {
			logging.Debug("engine: transient send error", zap.Error(err))
		}
	}
	e.outbound = e.outbound[:0]
	return nil
}
