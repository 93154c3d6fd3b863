package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/client"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/serializer"
	"github.com/ValentinKolb/dBucket/rpc/transport"
	"github.com/ValentinKolb/dBucket/rpc/transport/http"
	"github.com/ValentinKolb/dBucket/rpc/transport/tcp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "dbucket"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files and makes viper read DBUCKET_* variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the dBucket host. For transports that support load balancing, multiple endpoints can be specified as a comma-separated list"))

	key = "caller"
	cmd.PersistentFlags().String(key, "", WrapString("The identity the requests are sent as (empty for anonymous)"))

	key = "coordinator"
	cmd.PersistentFlags().Uint64(key, 1, WrapString("Node ID of the coordinator"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, 10*time.Second, WrapString("The timeout of a single request"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try a request"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint (ignored for http)"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer in KB (ignored for http)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer in KB (ignored for http)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds (only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time in seconds, negative keeps the OS default (only for tcp)"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		Caller:  viper.GetString("caller"),
		Timeout: viper.GetDuration("timeout"),
		Transport: common.TransportConfig{
			Endpoints:              SplitList(viper.GetString("endpoint")),
			RetryCount:             viper.GetInt("retries"),
			ConnectionsPerEndpoint: viper.GetInt("conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPNoDelay:      viper.GetBool("tcp-nodelay"),
				TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("tcp-linger"),
			},
		},
	}
}

// GetCoordinatorID returns the configured coordinator node
func GetCoordinatorID() types.NodeID {
	return types.NodeID(viper.GetUint64("coordinator"))
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	name := viper.GetString("serializer")
	s, ok := serializer.FromName(name)
	if !ok {
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
	return s, nil
}

// GetClientTransport creates a client transport based on configuration
func GetClientTransport() (transport.IRPCClientTransport, error) {
	switch name := viper.GetString("transport"); name {
	case "http":
		return http.NewHttpClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// GetServerTransport creates a server transport based on configuration
func GetServerTransport(bufferSize, workersPerConn int) (transport.IRPCServerTransport, error) {
	switch name := viper.GetString("transport"); name {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return tcp.NewTCPServerTransport(bufferSize, workersPerConn), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// NewClient binds the flags of cmd and connects a client to the configured host
func NewClient(cmd *cobra.Command) (*client.RPCClient, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}

	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetClientTransport()
	if err != nil {
		return nil, err
	}

	return client.NewRPCClient(GetCoordinatorID(), GetClientConfig(), t, s)
}

// ParseNodeID parses a node id argument
func ParseNodeID(arg string) (types.NodeID, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid node id %q", arg)
	}
	return types.NodeID(id), nil
}

// FormatNodeIDs renders node ids as a comma separated list
func FormatNodeIDs(ids []types.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, ", ")
}

// SplitList splits a comma separated flag value and drops empty items
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// PrintEntries prints one line per entry
func PrintEntries(entries []types.Entry) {
	if len(entries) == 0 {
		fmt.Println("no entries")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  tag=%s  by=%s  %s\n", e.SubmittedAt.Format(time.RFC3339), e.Tag, e.SubmittedBy, e.Body)
	}
}
