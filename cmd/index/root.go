package index

import (
	"github.com/ValentinKolb/dBucket/cmd/util"
	"github.com/ValentinKolb/dBucket/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.RPCClient

	// IndexCommands represents the coordinator command group
	IndexCommands = &cobra.Command{
		Use:                "index",
		Short:              "Query and administer the coordinator",
		PersistentPreRunE:  setupIndexClient,
		PersistentPostRunE: closeIndexClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(IndexCommands)

	IndexCommands.AddCommand(lookupCmd)
	IndexCommands.AddCommand(shardsCmd)
	IndexCommands.AddCommand(uploadOrderCmd)
	IndexCommands.AddCommand(globalIndexCmd)
	IndexCommands.AddCommand(metricsCmd)
	IndexCommands.AddCommand(addModeratorCmd)
	IndexCommands.AddCommand(strategyCmd)
}

func setupIndexClient(cmd *cobra.Command, _ []string) (err error) {
	rpcClient, err = util.NewClient(cmd)
	return err
}

func closeIndexClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
