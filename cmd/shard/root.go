package shard

import (
	"github.com/ValentinKolb/dBucket/cmd/util"
	"github.com/ValentinKolb/dBucket/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.RPCClient

	// ShardCommands represents the shard command group
	ShardCommands = &cobra.Command{
		Use:                "shard",
		Short:              "Talk to a single shard",
		Long:               "Send requests directly to one shard. Every command takes the node id of the shard as its first argument.",
		PersistentPreRunE:  setupShardClient,
		PersistentPostRunE: closeShardClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(ShardCommands)

	ShardCommands.AddCommand(submitCmd)
	ShardCommands.AddCommand(listCmd)
	ShardCommands.AddCommand(listAllCmd)
	ShardCommands.AddCommand(summaryCmd)
	ShardCommands.AddCommand(metricsCmd)
	ShardCommands.AddCommand(capacityCmd)
}

func setupShardClient(cmd *cobra.Command, _ []string) (err error) {
	rpcClient, err = util.NewClient(cmd)
	return err
}

func closeShardClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
