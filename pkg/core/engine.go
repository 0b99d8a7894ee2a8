package core

// StateFunc receives engine parameter changes. The engine calls it from its
// own execution loop; implementations must not block.
type StateFunc func(param CoreParam, value int32)

// Engine is the execution engine driven by Core.
type Engine interface {
	// Issue validates and enqueues a command without blocking. It returns an
	// error if the engine rejects the command outright.
	Issue(cmd Command, param int32, value any) error

	// Execute runs the engine loop on the calling goroutine until emulation
	// stops, reporting parameter changes through onState.
	Execute(onState StateFunc) error
}
