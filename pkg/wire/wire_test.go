package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{
		ID: 42,
		Segments: []Segment{
			{'M', 3, 1},
			[]byte("hello"),
		},
	}
	data, err := p.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Segments, got.Segments)
}

func TestPacketDeserializeShortInput(t *testing.T) {
	// declared segment count exceeds what's actually present; deserialize
	// stops early instead of erroring per spec's sanity clamp.
	p := &Packet{ID: 1, Segments: []Segment{{1, 2, 3}}}
	data, _ := p.Serialize()
	truncated := data[:len(data)-2]

	got, err := Deserialize(truncated)
	require.NoError(t, err)
	assert.Empty(t, got.Segments)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	e := &Envelope{
		Type:        MessageCommand,
		TimestampNs: 123456789,
		TickNumber:  1000,
		Payload:     []byte("payload bytes"),
	}
	data := e.Serialize()
	got, err := DeserializeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestCommandBatchRoundTrip(t *testing.T) {
	records := []CommandRecord{
		{Tick: 10, Bytes: []byte("a")},
		{Tick: 11, Bytes: []byte("bb")},
		{Tick: 12, Bytes: []byte("ccc")},
	}
	data, err := EncodeCommandBatch(records)
	require.NoError(t, err)

	got, err := DecodeCommandBatch(data)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestCommandBatchOverCapacity(t *testing.T) {
	records := make([]CommandRecord, MaxCommandsPerPacket+1)
	_, err := EncodeCommandBatch(records)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestCommandBatchOverlength(t *testing.T) {
	records := []CommandRecord{{Tick: 1, Bytes: make([]byte, MaxCommandLength+1)}}
	_, err := EncodeCommandBatch(records)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSyncPayloadRoundTrip(t *testing.T) {
	p := SyncPayload{DaemonTick: 555, State: []byte("world state blob")}
	data := EncodeSyncPayload(p)
	got, err := DecodeSyncPayload(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPongPayloadRoundTrip(t *testing.T) {
	p := PongPayload{EchoedStartTs: 111, DaemonZeroTime: 222}
	data := EncodePongPayload(p)
	got, err := DecodePongPayload(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
