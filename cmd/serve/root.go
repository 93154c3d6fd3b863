package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dBucket/cmd/util"
	"github.com/ValentinKolb/dBucket/lib/placement"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultTick        = time.Second
	defaultReindex     = 5 * time.Second
	defaultRebuild     = 5 * time.Second
	defaultCallTimeout = 5 * time.Second
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dBucket host",
		Long:    `Start a dBucket host running the coordinator and every shard it provisions. The configuration can be set via command line flags or environment variables. The format of the environment variables is DBUCKET_<flag> (e.g. DBUCKET_DESIRED_FREE_SLOTS=100)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Read and write deadline of a single frame, 0 disables the deadline"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("How many requests of one connection are handled concurrently (only for tcp)"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("Size of the request buffers in KB (only for tcp)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval in seconds (only for tcp)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, cmdUtil.WrapString("The linger time in seconds, negative keeps the OS default (only for tcp)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "coordinator-id"
	ServeCmd.PersistentFlags().Uint64(key, 1, cmdUtil.WrapString("Node ID of the coordinator. Shards get the following ids"))

	key = "desired-free-slots"
	ServeCmd.PersistentFlags().Uint64(key, 60, cmdUtil.WrapString("How many free entry slots the coordinator keeps available across all shards"))

	key = "shard-capacity"
	ServeCmd.PersistentFlags().Uint64(key, 20, cmdUtil.WrapString("Maximum number of entries of a newly provisioned shard"))

	key = "strategy"
	ServeCmd.PersistentFlags().String(key, placement.BalancedLoad.String(), cmdUtil.WrapString("Upload order strategy (balanced, fill-first)"))

	key = "controllers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of identities that may add moderators and change capacities"))

	key = "tick-interval"
	ServeCmd.PersistentFlags().Duration(key, defaultTick, cmdUtil.WrapString("How often the coordinator and every shard run their background work"))

	key = "reindex-interval"
	ServeCmd.PersistentFlags().Duration(key, defaultReindex, cmdUtil.WrapString("Minimum time between two summary publications of a shard"))

	key = "rebuild-interval"
	ServeCmd.PersistentFlags().Duration(key, defaultRebuild, cmdUtil.WrapString("Minimum time between two rebuilds of the coordinator's tag map"))

	key = "call-timeout"
	ServeCmd.PersistentFlags().Duration(key, defaultCallTimeout, cmdUtil.WrapString("Upper bound of every call between coordinator and shards"))

	key = "snapshot-path"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("File the host state is restored from on start and saved to on shutdown (empty disables persistence)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the prometheus /metrics endpoint (empty disables it)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// the strategy is validated before anything starts
	if _, err := placement.ParseStrategy(viper.GetString("strategy")); err != nil {
		return err
	}

	serveCmdConfig.Transport = common.TransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		BufferSize:     viper.GetInt("buffer-size") * 1024,
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		},
	}
	serveCmdConfig.Timeout = viper.GetDuration("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.CoordinatorID = viper.GetUint64("coordinator-id")
	serveCmdConfig.DesiredFreeSlots = viper.GetUint64("desired-free-slots")
	serveCmdConfig.ShardCapacity = viper.GetUint64("shard-capacity")
	serveCmdConfig.Strategy = viper.GetString("strategy")
	serveCmdConfig.Controllers = cmdUtil.SplitList(viper.GetString("controllers"))
	serveCmdConfig.TickInterval = viper.GetDuration("tick-interval")
	serveCmdConfig.ReindexInterval = viper.GetDuration("reindex-interval")
	serveCmdConfig.RebuildInterval = viper.GetDuration("rebuild-interval")
	serveCmdConfig.CallTimeout = viper.GetDuration("call-timeout")
	serveCmdConfig.SnapshotPath = viper.GetString("snapshot-path")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")

	return nil
}

// run starts the host and blocks until it receives SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport(serveCmdConfig.Transport.BufferSize, serveCmdConfig.Transport.WorkersPerConn)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.NewRPCServer(*serveCmdConfig, t, s).Serve(ctx)
}
