package loopback

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/transport"
)

// NewClientTransport creates a client transport that passes every request to
// handler in the calling process
func NewClientTransport(handler transport.ServerHandleFunc) transport.IRPCClientTransport {
	return &clientTransport{handler: handler}
}

type clientTransport struct {
	handler transport.ServerHandleFunc
	closed  atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(_ common.ClientConfig) error {
	t.closed.Store(false)
	return nil
}

func (t *clientTransport) Send(ctx context.Context, nodeId uint64, req []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("loopback transport closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The handler owns its copy, like a remote server would
	payload := append([]byte(nil), req...)

	done := make(chan []byte, 1)
	go func() {
		done <- t.handler(nodeId, payload)
	}()

	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *clientTransport) Close() error {
	t.closed.Store(true)
	return nil
}
