package bucket

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dBucket/cmd/util"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PerfCmd benchmarks a running host with posts and fetches
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dBucket hosts",
		Long:    "Runs post and fetch benchmarks against a running host. Every post uses up a slot, so the host provisions shards while the benchmark runs.",
		Args:    cobra.NoArgs,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfTagPrefix  = "__perf"
	perfBodySize   = 64
	perfNumThreads = 10
	perfTagSpread  = 10
	perfSkip       = make([]string, 0)
)

func init() {
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. post,fetch)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "body-size"
	PerfCmd.Flags().Int(key, 64, util.WrapString("Size of the posted bodies in bytes"))
	key = "tags"
	PerfCmd.Flags().Int(key, 10, util.WrapString("How many different tags to use for the tests"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfBodySize = max(1, viper.GetInt("body-size"))
	perfTagSpread = max(1, viper.GetInt("tags"))
	perfNumThreads = max(1, viper.GetInt("threads"))
	perfSkip = util.SplitList(viper.GetString("skip"))

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	config := util.GetClientConfig()

	fmt.Println("Performance testing tool for dBucket hosts")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	body := strings.Repeat("x", perfBodySize)

	postResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("post") {
			return
		}
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := rpcClient.Post(ctx, perfTag(counter), body); err != nil {
					log.Printf("(post) - error posting entry: %v\n", err)
				}
				counter++
			}
		})
	})
	results["post"] = postResult
	printResult("post", postResult)

	fetchResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("fetch") {
			return
		}

		// every tag needs at least one entry
		for i := 0; i < perfTagSpread; i++ {
			if _, err := rpcClient.Post(ctx, perfTag(i), body); err != nil {
				log.Printf("(fetch) - error posting entry: %v\n", err)
			}
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := rpcClient.Fetch(ctx, perfTag(counter)); err != nil {
					log.Printf("(fetch) - error fetching entries: %v\n", err)
				}
				counter++
			}
		})
	})
	results["fetch"] = fetchResult
	printResult("fetch", fetchResult)

	uploadOrderResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("upload-order") {
			return
		}
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, err := rpcClient.Coordinator.UploadOrder(ctx); err != nil {
					log.Printf("(upload-order) - error reading upload order: %v\n", err)
				}
			}
		})
	})
	results["upload-order"] = uploadOrderResult
	printResult("upload-order", uploadOrderResult)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", csvPath)
	}
	return nil
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func perfTag(i int) string {
	return fmt.Sprintf("%s-%d", perfTagPrefix, i%perfTagSpread)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "Timeout", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport", "Threads", "BodySize", "Tags",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			config.Timeout.String(),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfBodySize),
			strconv.Itoa(perfTagSpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
