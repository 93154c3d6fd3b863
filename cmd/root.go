package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dBucket/cmd/bucket"
	"github.com/ValentinKolb/dBucket/cmd/index"
	"github.com/ValentinKolb/dBucket/cmd/serve"
	"github.com/ValentinKolb/dBucket/cmd/shard"
	"github.com/ValentinKolb/dBucket/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dbucket",
		Short: "self-scaling sharded content store",
		Long: fmt.Sprintf(`dBucket (v%s)

A sharded store for tagged entries. A coordinator keeps a global index of
which shard holds which tag and provisions new shards whenever the free
capacity drops below the configured target.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dBucket",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dBucket v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(shard.ShardCommands)
	RootCmd.AddCommand(index.IndexCommands)
	RootCmd.AddCommand(bucket.PostCmd)
	RootCmd.AddCommand(bucket.FetchCmd)
	RootCmd.AddCommand(bucket.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
