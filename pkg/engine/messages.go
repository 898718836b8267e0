package engine

import (
	"time"

	"github.com/curvedinf/razor/pkg/logging"
	"github.com/curvedinf/razor/pkg/metrics"
	"github.com/curvedinf/razor/pkg/wire"
	"go.uber.org/zap"
)

// dispatch decodes the application envelope and routes it by type, per the
// per-tick procedure of spec.md §4.4 step 2.
func (e *Engine) dispatch(peer string, msg []byte) error {
	env, err := wire.DeserializeEnvelope(msg)
	if err != nil {
		return err
	}

	switch env.Type {
	case wire.MessageCommand:
		return e.handleCommand(peer, env)
	case wire.MessageSync:
		return e.handleSync(env)
	case wire.MessagePong:
		return e.handlePong(env)
	case wire.MessageRequestFull:
		return e.handleRequestFull(peer, env)
	case wire.MessagePing:
		return e.handlePing(peer, env)
	case wire.MessageDisconnect:
		e.conn.Unbind(peer)
		return nil
	default:
		return wire.ErrMalformed
	}
}

func (e *Engine) handleCommand(peer string, env *wire.Envelope) error {
	records, err := wire.DecodeCommandBatch(env.Payload)
	if err != nil {
		return err
	}

	if e.role == RoleDaemon {
		for _, r := range records {
			// Open-question decision 2 (SPEC_FULL.md §9): the correct
			// comparison uses the daemon's own local tick number, never
			// shadowed by the loop variable -- there is nothing to shadow
			// it with in Go.
			if r.Tick < e.localTickNumber || r.Tick-e.localTickNumber > MaxFutureCommandTicks || len(r.Bytes) > wire.MaxCommandLength {
				metrics.CommandsRejected.Inc()
				logging.Debug("engine: command rejected by tick gate",
					zap.String("peer", peer), zap.Uint64("tick", r.Tick), zap.Uint64("local_tick", e.localTickNumber))
				continue
			}
			metrics.CommandsAccepted.Inc()
			e.outgoingCommands = append(e.outgoingCommands, pendingCommand{tick: r.Tick, bytes: r.Bytes})
		}
		return nil
	}

	// Slave: apply each command at its stated tick via the embedding hook.
	if e.slaveEmbedding == nil {
		return nil
	}
	for _, r := range records {
		if err := e.slaveEmbedding.ApplyCommand(r.Bytes, r.Tick); err != nil {
			logging.Warn("engine: ApplyCommand failed", zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) handleSync(env *wire.Envelope) error {
	if e.role != RoleSlave {
		return nil
	}
	payload, err := wire.DecodeSyncPayload(env.Payload)
	if err != nil {
		return err
	}

	s := e.slave
	if err := s.slaveApplyState(payload, e); err != nil {
		logging.Warn("engine: ApplyState failed", zap.Error(err))
	}

	if !s.firstSyncReceived {
		s.firstSyncReceived = true
		s.firstSyncAt = time.Now()
		if s.bootstrap < StateFirstSyncReceived {
			s.bootstrap = StateFirstSyncReceived
		}
	}
	return nil
}

// slaveApplyState calls the embedding's ApplyState hook. Split out as a
// method on slaveRuntime so handleSync reads as "apply, then latch the
// bootstrap timer" without an inline closure.
func (s *slaveRuntime) slaveApplyState(payload wire.SyncPayload, e *Engine) error {
	if e.slaveEmbedding == nil {
		return nil
	}
	futureMs := int64(s.futureTime / time.Millisecond)
	return e.slaveEmbedding.ApplyState(payload.State, payload.DaemonTick, futureMs)
}

func (e *Engine) handlePong(env *wire.Envelope) error {
	if e.role != RoleSlave {
		return nil
	}
	payload, err := wire.DecodePongPayload(env.Payload)
	if err != nil {
		return err
	}

	s := e.slave
	nowNs := time.Now().UnixNano()
	echoedStartTs := int64(payload.EchoedStartTs)
	roundTrip := time.Duration(nowNs - echoedStartTs)
	pushBounded(&s.pingLog, roundTrip)

	zeroNs := e.zeroTime.UnixNano()
	daemonZeroNs := int64(payload.DaemonZeroTime)
	messageTs := int64(env.TimestampNs)
	timeDelta := time.Duration((echoedStartTs + int64(roundTrip)/2 - zeroNs) - (messageTs - daemonZeroNs))
	pushBounded(&s.timeDeltaLog, timeDelta)

	if !s.firstPingReceived {
		s.firstPingReceived = true
		if s.bootstrap < StateFirstPingReceived {
			s.bootstrap = StateFirstPingReceived
		}
	}

	e.updateFutureTime()
	return nil
}

func (e *Engine) handleRequestFull(peer string, env *wire.Envelope) error {
	if e.role != RoleDaemon {
		return nil
	}
	pong := wire.EncodePongPayload(wire.PongPayload{
		EchoedStartTs:  env.TimestampNs,
		DaemonZeroTime: uint64(e.zeroTime.UnixNano()),
	})
	e.enqueue(peer, wire.MessagePong, pong)

	if e.producer == nil {
		return ErrStateHookMissing
	}
	state, err := e.producer.ProduceState()
	if err != nil {
		return err
	}
	syncPayload := wire.EncodeSyncPayload(wire.SyncPayload{DaemonTick: e.localTickNumber, State: state})
	e.enqueue(peer, wire.MessageSync, syncPayload)
	e.lastSyncTick = e.localTickNumber
	return nil
}

func (e *Engine) handlePing(peer string, env *wire.Envelope) error {
	if e.role != RoleDaemon {
		return nil
	}
	pong := wire.EncodePongPayload(wire.PongPayload{
		EchoedStartTs:  env.TimestampNs,
		DaemonZeroTime: uint64(e.zeroTime.UnixNano()),
	})
	e.enqueue(peer, wire.MessagePong, pong)
	return nil
}
