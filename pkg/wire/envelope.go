package wire

import (
	"errors"

	"github.com/curvedinf/razor/pkg/codec"
)

// MessageType identifies the logical purpose of an application message
// carried inside a multipart's reassembled payload.
type MessageType uint8

const (
	MessageCommand     MessageType = 1
	MessageSync        MessageType = 2
	MessagePong        MessageType = 3
	MessageRequestFull MessageType = 4
	MessageDisconnect  MessageType = 5
	MessagePing        MessageType = 6
)

// MaxCommandsPerPacket bounds how many commands one COMMAND message may
// carry.
const MaxCommandsPerPacket = 5

// MaxCommandLength bounds a single command's byte length.
const MaxCommandLength = 200

// Envelope is the application message header framed around every COMMAND,
// SYNC, PONG, PING, REQUEST_FULL, and DISCONNECT payload.
//
//	offset  size  field
//	0       1     type (1..6)
//	1       8     timestamp_ns (uint64)
//	9       8     tick_number  (uint64)
//	17      4     payload_len  (uint32)
//	21      N     payload bytes
type Envelope struct {
	Type        MessageType
	TimestampNs uint64
	TickNumber  uint64
	Payload     []byte
}

func (e *Envelope) Serialize() []byte {
	buf := make([]byte, 21+len(e.Payload))
	pos := 0
	pos += codec.PutUint8(buf, pos, uint8(e.Type))
	pos += codec.PutUint64(buf, pos, e.TimestampNs)
	pos += codec.PutUint64(buf, pos, e.TickNumber)
	pos += codec.PutUint32(buf, pos, uint32(len(e.Payload)))
	copy(buf[pos:], e.Payload)
	return buf
}

func DeserializeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 21 {
		return nil, ErrMalformed
	}
	pos := 0
	t, n := codec.GetUint8(data, pos)
	pos += n
	ts, n := codec.GetUint64(data, pos)
	pos += n
	tick, n := codec.GetUint64(data, pos)
	pos += n
	plen, n := codec.GetUint32(data, pos)
	pos += n
	if pos+int(plen) > len(data) {
		return nil, ErrMalformed
	}
	payload := make([]byte, plen)
	copy(payload, data[pos:pos+int(plen)])
	return &Envelope{
		Type:        MessageType(t),
		TimestampNs: ts,
		TickNumber:  tick,
		Payload:     payload,
	}, nil
}

// CommandRecord is one (tick, bytes) entry inside a batched COMMAND payload.
type CommandRecord struct {
	Tick  uint64
	Bytes []byte
}

var ErrOutOfRange = errors.New("wire: value out of range")

// EncodeCommandBatch packs up to MaxCommandsPerPacket commands as
// `uint16 count; {uint64 tick; uint32 len; bytes[len]} x count`.
func EncodeCommandBatch(records []CommandRecord) ([]byte, error) {
	if len(records) > MaxCommandsPerPacket {
		return nil, ErrOutOfRange
	}
	size := 2
	for _, r := range records {
		if len(r.Bytes) > MaxCommandLength {
			return nil, ErrOutOfRange
		}
		size += 8 + 4 + len(r.Bytes)
	}
	buf := make([]byte, size)
	pos := 0
	pos += codec.PutUint16(buf, pos, uint16(len(records)))
	for _, r := range records {
		pos += codec.PutUint64(buf, pos, r.Tick)
		pos += codec.PutUint32(buf, pos, uint32(len(r.Bytes)))
		pos += copy(buf[pos:], r.Bytes)
	}
	return buf, nil
}

// DecodeCommandBatch reverses EncodeCommandBatch.
func DecodeCommandBatch(data []byte) ([]CommandRecord, error) {
	if len(data) < 2 {
		return nil, ErrMalformed
	}
	pos := 0
	count, n := codec.GetUint16(data, pos)
	pos += n

	records := make([]CommandRecord, 0, count)
	for i := 0; i < int(count); i++ {
		if pos+12 > len(data) {
			return nil, ErrMalformed
		}
		tick, n := codec.GetUint64(data, pos)
		pos += n
		length, n := codec.GetUint32(data, pos)
		pos += n
		if pos+int(length) > len(data) {
			return nil, ErrMalformed
		}
		b := make([]byte, length)
		copy(b, data[pos:pos+int(length)])
		pos += int(length)
		records = append(records, CommandRecord{Tick: tick, Bytes: b})
	}
	return records, nil
}

// SyncPayload is the decoded body of a SYNC message:
// `uint64 daemon_tick; uint32 len; bytes[len]`.
type SyncPayload struct {
	DaemonTick uint64
	State      []byte
}

func EncodeSyncPayload(p SyncPayload) []byte {
	buf := make([]byte, 12+len(p.State))
	pos := 0
	pos += codec.PutUint64(buf, pos, p.DaemonTick)
	pos += codec.PutUint32(buf, pos, uint32(len(p.State)))
	copy(buf[pos:], p.State)
	return buf
}

func DecodeSyncPayload(data []byte) (SyncPayload, error) {
	if len(data) < 12 {
		return SyncPayload{}, ErrMalformed
	}
	pos := 0
	tick, n := codec.GetUint64(data, pos)
	pos += n
	length, n := codec.GetUint32(data, pos)
	pos += n
	if pos+int(length) > len(data) {
		return SyncPayload{}, ErrMalformed
	}
	state := make([]byte, length)
	copy(state, data[pos:pos+int(length)])
	return SyncPayload{DaemonTick: tick, State: state}, nil
}

// PongPayload is the decoded body of a PONG message:
// `uint64 echoed_start_ts; uint64 daemon_zero_time`.
type PongPayload struct {
	EchoedStartTs  uint64
	DaemonZeroTime uint64
}

func EncodePongPayload(p PongPayload) []byte {
	buf := make([]byte, 16)
	pos := 0
	pos += codec.PutUint64(buf, pos, p.EchoedStartTs)
	codec.PutUint64(buf, pos, p.DaemonZeroTime)
	return buf
}

func DecodePongPayload(data []byte) (PongPayload, error) {
	if len(data) < 16 {
		return PongPayload{}, ErrMalformed
	}
	start, n := codec.GetUint64(data, 0)
	zero, _ := codec.GetUint64(data, n)
	return PongPayload{EchoedStartTs: start, DaemonZeroTime: zero}, nil
}
