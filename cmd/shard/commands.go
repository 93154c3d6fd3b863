package shard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dBucket/cmd/util"
	"github.com/spf13/cobra"
)

var (
	submitCmd = &cobra.Command{
		Use:   "submit [shard] [tag] [body]",
		Short: "Stores an entry on the shard",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			ok, err := rpcClient.Shards.Submit(cmd.Context(), id, args[1], args[2])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("shard %d is full", id)
			}
			fmt.Println("submitted successfully")
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [shard] [tag]",
		Short: "Lists the entries with the tag that are visible to the caller",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			entries, err := rpcClient.Shards.ListByTag(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			util.PrintEntries(entries)
			return nil
		},
	}
	listAllCmd = &cobra.Command{
		Use:   "list-all [shard]",
		Short: "Lists every entry of the shard (moderators only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			entries, err := rpcClient.Shards.ListAll(cmd.Context(), id)
			if err != nil {
				return err
			}
			util.PrintEntries(entries)
			return nil
		},
	}
	summaryCmd = &cobra.Command{
		Use:   "summary [shard]",
		Short: "Prints the tags and the fill level of the shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			summary, err := rpcClient.Shards.Summary(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("entries=%d/%d, tags=[%s]\n", summary.CurrentEntries, summary.MaxEntries, strings.Join(summary.Tags, ", "))
			return nil
		},
	}
	metricsCmd = &cobra.Command{
		Use:   "metrics [shard]",
		Short: "Prints the metrics report of the shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			report, err := rpcClient.Shards.Metrics(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Println(report)
			return nil
		},
	}
	capacityCmd = &cobra.Command{
		Use:   "capacity [shard] [max-entries]",
		Short: "Changes the capacity of the shard (controllers only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			capacity, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("max-entries must be a number: %w", err)
			}
			ok, err := rpcClient.Shards.SetCapacity(cmd.Context(), id, capacity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("capacity of shard %d was not changed", id)
			}
			fmt.Println("capacity set successfully")
			return nil
		},
	}
)
