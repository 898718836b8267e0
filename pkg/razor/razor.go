// Package razor is the public facade over Razor's transport and sync
// engine: construct a daemon or slave Engine bound to a UDP port, feed it
// ticks, and let it drive your embedding's adapter.Embedding hooks.
package razor

import (
	"github.com/curvedinf/razor/pkg/adapter"
	"github.com/curvedinf/razor/pkg/engine"
	"github.com/curvedinf/razor/pkg/transport"
)

// Re-exported so callers never need to import the underlying packages
// directly for the common path.
type (
	Engine          = engine.Engine
	Role            = engine.Role
	BootstrapState  = engine.BootstrapState
	StateProducer   = adapter.StateProducer
	StateApplier    = adapter.StateApplier
	CommandApplier  = adapter.CommandApplier
	SlaveEmbedding  = adapter.SlaveEmbedding
	Embedding       = adapter.Embedding
)

const (
	RoleDaemon = engine.RoleDaemon
	RoleSlave  = engine.RoleSlave
)

// NewDaemon binds a UDP socket on port and returns a daemon-role Engine.
// If logNetworking is true, every raw datagram is appended to
// networking.log next to the process's working directory.
func NewDaemon(port int, producer StateProducer, logNetworking bool) (*Engine, error) {
	conn, err := transport.Open(port, transport.Any)
	if err != nil {
		return nil, err
	}
	if logNetworking {
		if err := conn.EnableLogging("networking.log"); err != nil {
			return nil, err
		}
	}
	return engine.NewDaemon(conn, producer), nil
}

// NewSlave binds a UDP socket on port and returns a slave-role Engine
// targeting daemonEndpoint.
func NewSlave(port int, daemonEndpoint string, embedding SlaveEmbedding, logNetworking bool) (*Engine, error) {
	conn, err := transport.Open(port, transport.Any)
	if err != nil {
		return nil, err
	}
	if logNetworking {
		if err := conn.EnableLogging("networking.log"); err != nil {
			return nil, err
		}
	}
	return engine.NewSlave(conn, daemonEndpoint, embedding), nil
}
