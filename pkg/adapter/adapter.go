package adapter

import (
	"context"

	"github.com/marmos91/siafuse/pkg/vfs"
)

// Adapter is a transport that exposes the filesystem engine to clients and
// whose lifecycle is managed by server.Server.
//
// Each adapter translates one protocol (the kernel FUSE channel today) into
// dispatcher calls. All adapters share the same Dispatcher, so every transport
// sees the same namespace.
//
// Lifecycle:
//  1. Creation: Adapter is created with transport-specific configuration
//  2. Injection: SetDispatcher() provides the shared engine
//  3. Startup: Serve() starts the transport and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetDispatcher() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the transport and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// If Serve returns before context cancellation, the server treats it as
	// a fatal error and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - context.Canceled if cancelled via context
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// SetDispatcher injects the shared filesystem engine.
	//
	// Called exactly once by the server before Serve().
	SetDispatcher(d *vfs.Dispatcher)

	// Stop initiates graceful shutdown of the transport.
	//
	// Must be idempotent and safe to call concurrently with Serve(). The
	// context bounds how long the adapter may wait for in-flight requests.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and
	// metrics ("FUSE").
	Protocol() string

	// Endpoint describes where the adapter serves (a mountpoint, an address).
	Endpoint() string
}
