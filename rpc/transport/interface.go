package transport

import (
	"context"

	"github.com/ValentinKolb/dBucket/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the id of the addressed node (coordinator or shard) and a request as
// parameters and returns a response
type ServerHandleFunc func(nodeId uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	// The transport layer is responsible for passing the addressed node id along
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks while serving requests.
	// It returns nil once Shutdown was called.
	Listen(config common.ServerConfig) error
	// Shutdown stops accepting requests and closes open connections
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request for the given node to the server and returns the response.
	// It gives up once ctx is done.
	Send(ctx context.Context, nodeId uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
