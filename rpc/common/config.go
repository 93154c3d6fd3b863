package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport configuration (shared by server and client)
// --------------------------------------------------------------------------

// SocketConf holds socket level options of stream transports
type SocketConf struct {
	WriteBufferSize int // 0 keeps the OS default
	ReadBufferSize  int // 0 keeps the OS default
}

// TCPConf holds TCP specific options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int // 0 disables keep-alive
	TCPLingerSec    int // negative keeps the OS default
}

// TransportConfig configures a transport endpoint
type TransportConfig struct {
	Endpoint               string   // server listen address
	Endpoints              []string // client targets, used round robin
	RetryCount             int
	ConnectionsPerEndpoint int
	WorkersPerConn         int
	BufferSize             int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a host process running the
// coordinator and its shards
type ServerConfig struct {
	Transport TransportConfig
	Timeout   time.Duration // per-frame read/write deadline of stream transports

	// Logging configuration
	LogLevel string

	// Coordinator parameters
	CoordinatorID    uint64
	DesiredFreeSlots uint64
	ShardCapacity    uint64
	Strategy         string
	Controllers      []string

	// Reconciliation timing
	TickInterval    time.Duration
	ReindexInterval time.Duration
	RebuildInterval time.Duration
	CallTimeout     time.Duration

	// Persistence and observability
	SnapshotPath    string
	MetricsEndpoint string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	orNone := func(s string) string {
		if s == "" {
			return "(disabled)"
		}
		return s
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", c.Timeout.String())
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Coordinator
	addSection("Coordinator")
	addField("Node ID", strconv.FormatUint(c.CoordinatorID, 10))
	addField("Desired Free Slots", strconv.FormatUint(c.DesiredFreeSlots, 10))
	addField("Shard Capacity", strconv.FormatUint(c.ShardCapacity, 10))
	addField("Strategy", c.Strategy)
	addField("Controllers", strings.Join(c.Controllers, ", "))

	// Timing
	addSection("Reconciliation")
	addField("Tick Interval", c.TickInterval.String())
	addField("Reindex Interval", c.ReindexInterval.String())
	addField("Rebuild Interval", c.RebuildInterval.String())
	addField("Call Timeout", c.CallTimeout.String())

	// Persistence
	addSection("Persistence")
	addField("Snapshot Path", orNone(c.SnapshotPath))
	addField("Metrics Endpoint", orNone(c.MetricsEndpoint))

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures the rpc client of the cli and of remote callers
type ClientConfig struct {
	Transport TransportConfig
	Timeout   time.Duration
	Caller    string
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Caller", c.Caller)
	addField("Timeout", c.Timeout.String())
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
