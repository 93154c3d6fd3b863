package tcp

import (
	"net"
	"time"

	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/transport"
	"github.com/ValentinKolb/dBucket/rpc/transport/base"
)

// dialTimeout bounds connection attempts, including the reconnects of a broken stream
const dialTimeout = 5 * time.Second

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct {
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string) (net.Conn, error) {
	return c.dialer.Dial("tcp", endpoint)
}

// UpgradeConnection applies the keep-alive, linger and buffer options of config
func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.TransportConfig) error {
	return upgradeConnection(conn, config)
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a TCP client transport. Requests to any node of
// a host share the connections to that host.
func NewTCPClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{
		// keep-alive is set by UpgradeConnection
		dialer: net.Dialer{Timeout: dialTimeout, KeepAlive: -1},
	})
}
