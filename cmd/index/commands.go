package index

import (
	"fmt"

	"github.com/ValentinKolb/dBucket/cmd/util"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/spf13/cobra"
)

var (
	lookupCmd = &cobra.Command{
		Use:   "lookup [tag]",
		Short: "Lists the shards holding entries with the tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := rpcClient.Coordinator.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("tag=%s, shards=%s\n", args[0], util.FormatNodeIDs(ids))
			return nil
		},
	}
	shardsCmd = &cobra.Command{
		Use:   "shards",
		Short: "Lists every shard known to the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := rpcClient.Coordinator.AllShards(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(util.FormatNodeIDs(ids))
			return nil
		},
	}
	uploadOrderCmd = &cobra.Command{
		Use:   "upload-order",
		Short: "Lists the shards with free capacity in the order writers should try them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := rpcClient.Coordinator.UploadOrder(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(util.FormatNodeIDs(ids))
			return nil
		},
	}
	globalIndexCmd = &cobra.Command{
		Use:   "global-index",
		Short: "Prints every tag with the shards holding it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := rpcClient.Coordinator.GlobalIndex(cmd.Context())
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("index is empty")
			}
			for _, row := range rows {
				fmt.Printf("%-24s%s\n", row.Tag, util.FormatNodeIDs(row.Shards))
			}
			return nil
		},
	}
	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Prints the metrics report of the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := rpcClient.Coordinator.Metrics(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(report)
			return nil
		},
	}
	addModeratorCmd = &cobra.Command{
		Use:   "add-moderator [identity]",
		Short: "Grants an identity moderator rights on every shard (controllers only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := rpcClient.Coordinator.AddModerator(cmd.Context(), types.Identity(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("moderator %s was not added", args[0])
			}
			fmt.Println("moderator added successfully")
			return nil
		},
	}
	strategyCmd = &cobra.Command{
		Use:   "strategy [balanced|fill-first]",
		Short: "Changes how the upload order is computed (controllers only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := rpcClient.Coordinator.SetStrategy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("strategy was not changed")
			}
			fmt.Println("strategy set successfully")
			return nil
		},
	}
)
