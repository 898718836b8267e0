// Package adapter declares the embedding capability interfaces (C5) the
// sync engine delegates simulation-specific work to. The core never
// interprets state or command bytes; it only moves them.
package adapter

// StateProducer is called by the daemon when building a SYNC message. It
// must return the serialized world state.
type StateProducer interface {
	ProduceState() ([]byte, error)
}

// StateApplier is called on a slave receiving a SYNC message. The embedding
// is responsible for scheduling a re-simulation from daemonTick forward;
// futureTimeMs is the slave's current future-time buffer in milliseconds.
type StateApplier interface {
	ApplyState(state []byte, daemonTick uint64, futureTimeMs int64) error
}

// CommandApplier is called on a slave receiving a COMMAND. atTick is the
// tick the command is due; the core performs no validation of command
// bytes beyond length.
type CommandApplier interface {
	ApplyCommand(command []byte, atTick uint64) error
}

// SlaveEmbedding bundles the two hooks a slave engine needs. Splitting this
// from a full Embedding interface means a daemon-only process never needs
// to satisfy ApplyState/ApplyCommand, and vice versa -- the role-tagged
// engine and its capability requirements stay in lockstep.
type SlaveEmbedding interface {
	StateApplier
	CommandApplier
}

// Embedding bundles all three hooks, for callers that want a single
// implementation usable in either role (the demo embedding does this).
type Embedding interface {
	StateProducer
	SlaveEmbedding
}
