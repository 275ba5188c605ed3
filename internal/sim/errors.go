package sim

import "errors"

var (
	// ErrNoGPU means no compatible adapter could be acquired. Engines treat
	// it as a signal to stay on (or fall back to) the CPU backend.
	ErrNoGPU = errors.New("sim: no compatible gpu adapter")

	// ErrDeviceLost means the device disappeared mid-run, typically after a
	// driver reset. State recovered from the last completed tick survives on
	// the host.
	ErrDeviceLost = errors.New("sim: gpu device lost")

	// ErrNotInitialized is returned by backend operations invoked before
	// Initialize succeeded.
	ErrNotInitialized = errors.New("sim: backend not initialized")

	// ErrReleased is returned by engine operations after Release.
	ErrReleased = errors.New("sim: engine released")

	// ErrUnknownNode is returned by id-keyed lookups for absent nodes.
	ErrUnknownNode = errors.New("sim: unknown node id")

	// ErrDuplicateNode is returned by SetNodes when two specs share an id.
	ErrDuplicateNode = errors.New("sim: duplicate node id")
)
