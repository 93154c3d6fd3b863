package bucket

import (
	"fmt"

	"github.com/ValentinKolb/dBucket/cmd/util"
	"github.com/ValentinKolb/dBucket/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.RPCClient

	// PostCmd stores an entry on the first shard with free capacity
	PostCmd = &cobra.Command{
		Use:   "post [tag] [body]",
		Short: "Stores an entry under a tag",
		Long:  "Stores an entry under a tag. The shards are tried in the upload order of the coordinator until one accepts the entry.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := rpcClient.Post(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("posted successfully to shard %d\n", id)
			return nil
		},
	}

	// FetchCmd collects the entries of a tag from every shard holding it
	FetchCmd = &cobra.Command{
		Use:   "fetch [tag]",
		Short: "Lists the entries of a tag that are visible to the caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := rpcClient.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			util.PrintEntries(entries)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	for _, cmd := range []*cobra.Command{PostCmd, FetchCmd, PerfCmd} {
		util.SetupRPCClientFlags(cmd)
		cmd.PersistentPreRunE = setupClient
		cmd.PersistentPostRunE = closeClient
	}
}

func setupClient(cmd *cobra.Command, _ []string) (err error) {
	rpcClient, err = util.NewClient(cmd)
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
