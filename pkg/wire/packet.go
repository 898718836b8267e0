// Package wire implements Razor's datagram framer (C2): encoding and
// decoding a single UDP datagram as an id, a segment count, and a sequence
// of length-prefixed segments.
//
// Wire layout:
//
//	offset  size   field
//	0       4      packet_id              (uint32)
//	4       1      segment_count          (uint8, 1..255)
//	5+      2      segment_0_len          (uint16)
//	...            segment_0_bytes
//	...     2      segment_1_len
//	...            segment_1_bytes
package wire

import (
	"errors"

	"github.com/curvedinf/razor/pkg/codec"
)

// ErrMalformed indicates a structurally invalid datagram: truncated,
// nonsensical segment layout, or out-of-range counts.
var ErrMalformed = errors.New("wire: malformed datagram")

// MaxDatagramSize is the largest datagram Connection will ever emit.
const MaxDatagramSize = 508

// MaxSegmentSize is the largest single segment payload Connection will ever
// emit: MaxDatagramSize minus the 5-byte packet header, the two segments'
// 2-byte length prefixes, and the 3-byte multipart header segment.
const MaxSegmentSize = 496

// Segment is one length-prefixed byte run owned by a Packet.
type Segment []byte

// Packet is one UDP datagram's worth of framed segments.
type Packet struct {
	ID       uint32
	Segments []Segment
}

// Serialize encodes p per the wire layout above.
func (p *Packet) Serialize() ([]byte, error) {
	if len(p.Segments) == 0 || len(p.Segments) > 255 {
		return nil, ErrMalformed
	}

	size := 5
	for _, s := range p.Segments {
		size += 2 + len(s)
	}

	buf := make([]byte, size)
	pos := 0
	pos += codec.PutUint32(buf, pos, p.ID)
	pos += codec.PutUint8(buf, pos, uint8(len(p.Segments)))
	for _, s := range p.Segments {
		pos += codec.PutUint16(buf, pos, uint16(len(s)))
		pos += copy(buf[pos:], s)
	}
	return buf, nil
}

// Deserialize decodes a Packet from data. Per spec, the segment loop stops
// when either the declared segment count is reached or the input is
// exhausted, whichever comes first -- it does not error on a short buffer,
// it simply returns fewer segments than declared.
func Deserialize(data []byte) (*Packet, error) {
	if len(data) < 5 {
		return nil, ErrMalformed
	}

	pos := 0
	id, n := codec.GetUint32(data, pos)
	pos += n
	count, n := codec.GetUint8(data, pos)
	pos += n

	p := &Packet{ID: id}
	for i := 0; i < int(count); i++ {
		if pos+2 > len(data) {
			break
		}
		segLen, n := codec.GetUint16(data, pos)
		pos += n
		if pos+int(segLen) > len(data) {
			break
		}
		seg := make(Segment, segLen)
		copy(seg, data[pos:pos+int(segLen)])
		pos += int(segLen)
		p.Segments = append(p.Segments, seg)
	}
	return p, nil
}
