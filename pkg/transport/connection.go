// Package transport implements Razor's Connection (C3): a bound UDP
// endpoint with peer channel bookkeeping, segmentation and send-duplication
// on the way out, and sender-scoped dedup plus multipart reassembly on the
// way in.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/curvedinf/razor/pkg/logging"
	"github.com/curvedinf/razor/pkg/metrics"
	"github.com/curvedinf/razor/pkg/wire"
	"go.uber.org/zap"
)

// Reserved endpoint values, never valid as real peer addresses.
const (
	Any       = "ANY"
	Broadcast = "BROADCAST"
)

// DedupWindow is how long a (peer, packet id) pair is remembered to reject
// retransmitted duplicates. Multipart entries are evicted on the same
// cadence and threshold (SPEC_FULL.md open-question decision 4).
const DedupWindow = 10 * time.Second

var (
	// ErrAddressParse mirrors the spec's AddressParse error kind: a
	// "host:port" string missing a colon, with a non-numeric port, or an
	// unresolvable host.
	ErrAddressParse = errors.New("transport: address parse error")
	// ErrSocketOpen mirrors SocketOpen: bind failed.
	ErrSocketOpen = errors.New("transport: socket open failed")
)

// globalPacketID is the process-wide monotonic packet id counter shared by
// every Connection, per spec.md §5/§9 ("relax the single-thread assumption
// when multiple Connections coexist").
var globalPacketID atomic.Uint32

func nextPacketID() uint32 {
	return globalPacketID.Add(1)
}

type dedupKey struct {
	peer string
	id   uint32
}

type multipartKey struct {
	peer    string
	firstID uint32
}

type multipartEntry struct {
	total     uint8
	slots     [][]byte
	filled    int
	createdAt time.Time
}

// Connection owns one bound UDP endpoint.
type Connection struct {
	mu sync.Mutex

	conn         *net.UDPConn
	localAddr    string
	remoteFilter string

	channels    map[string]int
	channelByID map[int]string
	nextChannel int

	dedup     map[dedupKey]time.Time
	multipart map[multipartKey]*multipartEntry

	logFile *os.File

	destroyed atomic.Bool
}

// Open binds a UDP socket on port. If remoteFilter is non-empty and not Any,
// datagrams from any other source are silently dropped.
func Open(port int, remoteFilter string) (*Connection, error) {
	if remoteFilter == "" {
		remoteFilter = Any
	}

	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSocketOpen, err)
	}

	return &Connection{
		conn:         conn,
		localAddr:    conn.LocalAddr().String(),
		remoteFilter: remoteFilter,
		channels:     make(map[string]int),
		channelByID:  make(map[int]string),
		nextChannel:  1,
		dedup:        make(map[dedupKey]time.Time),
		multipart:    make(map[multipartKey]*multipartEntry),
	}, nil
}

// EnableLogging opens a raw datagram log at path; every send/receive
// appends a '>'/'<' prefixed line per spec.md §4.3.
func (c *Connection) EnableLogging(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.logFile = f
	c.mu.Unlock()
	return nil
}

func (c *Connection) logLine(prefix byte, data []byte) {
	if c.logFile == nil {
		return
	}
	line := append([]byte{prefix}, data...)
	line = append(line, '\n')
	_, _ = c.logFile.Write(line)
}

// Close idempotently closes the socket and the datagram log, if any.
func (c *Connection) Close() error {
	if !c.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
	return c.conn.Close()
}

// channelFor assigns (if needed) and returns the channel id for peer. ANY
// is never assigned a channel.
func (c *Connection) channelFor(peer string) int {
	if peer == Any {
		return -1
	}
	if id, ok := c.channels[peer]; ok {
		return id
	}
	id := c.nextChannel
	c.nextChannel++
	c.channels[peer] = id
	c.channelByID[id] = peer
	return id
}

// Unbind releases a peer's channel.
func (c *Connection) Unbind(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.channels[peer]; ok {
		delete(c.channels, peer)
		delete(c.channelByID, id)
	}
}

// UnbindAll releases every peer's channel.
func (c *Connection) UnbindAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = make(map[string]int)
	c.channelByID = make(map[int]string)
	c.nextChannel = 1
}

// Peers returns every currently bound peer endpoint.
func (c *Connection) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers := make([]string, 0, len(c.channels))
	for p := range c.channels {
		peers = append(peers, p)
	}
	return peers
}

// Send splits message into parts of up to wire.MaxSegmentSize bytes, assigns
// each part a fresh packet id from the global monotonic counter, and emits
// each part twice back to back over the wire to tolerate loss.
func (c *Connection) Send(endpoint string, message []byte) error {
	if endpoint == Broadcast {
		return c.SendAll(message)
	}

	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddressParse, err)
	}

	parts := splitParts(message, wire.MaxSegmentSize)
	total := uint8(len(parts))

	c.mu.Lock()
	c.channelFor(endpoint)
	firstID := nextPacketID()
	for i := 1; i < len(parts); i++ {
		nextPacketID()
	}
	c.mu.Unlock()

	for i, part := range parts {
		id := firstID + uint32(i)
		pkt := &wire.Packet{
			ID: id,
			Segments: []wire.Segment{
				{'M', total, uint8(i)},
				part,
			},
		}
		data, err := pkt.Serialize()
		if err != nil {
			return err
		}
		if err := c.writeTwice(addr, data); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) writeTwice(addr *net.UDPAddr, data []byte) error {
	for i := 0; i < 2; i++ {
		if _, err := c.conn.WriteToUDP(data, addr); err != nil {
			logging.Debug("transport: transient send error", zap.Error(err))
			continue
		}
		c.logLine('>', data)
		metrics.PacketsSent.Inc()
	}
	return nil
}

// SendAll sends message to every currently bound peer.
func (c *Connection) SendAll(message []byte) error {
	for _, peer := range c.Peers() {
		if err := c.Send(peer, message); err != nil {
			return err
		}
	}
	return nil
}

func splitParts(message []byte, maxSize int) [][]byte {
	if len(message) == 0 {
		return [][]byte{{}}
	}
	var parts [][]byte
	for len(message) > 0 {
		n := maxSize
		if n > len(message) {
			n = len(message)
		}
		parts = append(parts, message[:n])
		message = message[n:]
	}
	return parts
}

// Receive drains one fully-assembled application message, or returns
// (ok=false) if none is available. It never blocks: a dropped/duplicate/
// malformed datagram does not end the call, it just pulls the next one, per
// spec.md §4.3 step 7 ("continue"); only an empty socket ends it.
func (c *Connection) Receive() (peer string, message []byte, ok bool, err error) {
	c.mu.Lock()
	c.expireLocked(time.Now())
	c.mu.Unlock()

	buf := make([]byte, wire.MaxDatagramSize)
	for {
		if err := c.conn.SetReadDeadline(time.Now()); err != nil {
			return "", nil, false, nil
		}
		n, srcAddr, rerr := c.conn.ReadFromUDP(buf)
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				return "", nil, false, nil
			}
			logging.Debug("transport: transient receive error", zap.Error(rerr))
			continue
		}

		src := srcAddr.String()
		if c.remoteFilter != Any && src != c.remoteFilter {
			continue
		}

		raw := buf[:n]
		c.logLine('<', raw)
		metrics.PacketsReceived.Inc()

		peer, message, ok := c.processDatagram(src, raw)
		if ok {
			return peer, message, true, nil
		}
	}
}

// processDatagram handles one already-read datagram: dedup, channel
// bookkeeping, the multipart sanity check, and reassembly. It returns
// ok=false for every drop condition, leaving the caller's loop to pull the
// next datagram.
func (c *Connection) processDatagram(src string, raw []byte) (peer string, message []byte, ok bool) {
	pkt, derr := wire.Deserialize(raw)
	if derr != nil {
		logging.Debug("transport: malformed datagram dropped", zap.String("peer", src))
		metrics.MalformedDrops.Inc()
		return "", nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := dedupKey{peer: src, id: pkt.ID}
	if _, seen := c.dedup[key]; seen {
		logging.Debug("transport: duplicate datagram dropped", zap.String("peer", src), zap.Uint32("packet_id", pkt.ID))
		metrics.DedupDrops.Inc()
		return "", nil, false
	}
	c.dedup[key] = time.Now().Add(DedupWindow)

	c.channelFor(src)

	if len(pkt.Segments) != 2 || len(pkt.Segments[0]) != 3 || pkt.Segments[0][0] != 'M' {
		logging.Debug("transport: malformed segment layout dropped", zap.String("peer", src))
		metrics.MalformedDrops.Inc()
		return "", nil, false
	}

	total := pkt.Segments[0][1]
	index := pkt.Segments[0][2]
	// Open-question decision 1 (SPEC_FULL.md §9): the corrected check is
	// index >= total, not the source's `index - 1 > total`.
	if index >= total {
		logging.Debug("transport: multipart index out of range dropped", zap.String("peer", src))
		metrics.MalformedDrops.Inc()
		return "", nil, false
	}

	firstID := pkt.ID - uint32(index)
	mkey := multipartKey{peer: src, firstID: firstID}
	entry, exists := c.multipart[mkey]
	if !exists {
		entry = &multipartEntry{
			total:     total,
			slots:     make([][]byte, total),
			createdAt: time.Now(),
		}
		c.multipart[mkey] = entry
	}
	// A second sender or a crafted datagram can collide on firstID while
	// declaring a different total than the entry was created with; reject it
	// rather than mix its payload in or index past the entry's slots.
	if total != entry.total || int(index) >= len(entry.slots) {
		logging.Debug("transport: multipart total mismatch dropped", zap.String("peer", src))
		metrics.MalformedDrops.Inc()
		return "", nil, false
	}
	if entry.slots[index] == nil {
		entry.slots[index] = pkt.Segments[1]
		entry.filled++
	}

	if entry.filled < int(entry.total) {
		return "", nil, false
	}

	delete(c.multipart, mkey)
	var assembled []byte
	for _, s := range entry.slots {
		assembled = append(assembled, s...)
	}
	return src, assembled, true
}

// expireLocked drops dedup entries and multipart entries older than
// DedupWindow. Callers must hold c.mu.
func (c *Connection) expireLocked(now time.Time) {
	for k, exp := range c.dedup {
		if !exp.After(now) {
			delete(c.dedup, k)
		}
	}
	for k, entry := range c.multipart {
		if now.Sub(entry.createdAt) > DedupWindow {
			delete(c.multipart, k)
		}
	}
}
