package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/strata-db/strata/cmd/util"
	"github.com/strata-db/strata/lib/catalog"
	"github.com/strata-db/strata/lib/engine"
	"github.com/strata-db/strata/lib/txn"
)

var (
	// BenchCmd represents the embedded benchmark runner
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark an embedded engine instance",
		Long:    "Run a configurable workload mix against a throwaway engine in a temporary directory and report per-operation latencies.",
		RunE:    run,
		PreRunE: processBenchConfig,
	}

	benchTable      = "bench"
	benchValueSize  = 128
	benchNumThreads = 10
	benchKeySpread  = 100
	benchSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,get)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	BenchCmd.Flags().Int(key, 128, util.WrapString("Size of the payload column in bytes"))
	key = "keys"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How many different rows to use for the tests"))
	key = "strategy"
	BenchCmd.Flags().String(key, "", util.WrapString("Storage strategy for the bench table (tree, log, hybrid; empty = analyze)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchValueSize = viper.GetInt("value-size")
	benchKeySpread = viper.GetInt("keys")
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Embedded benchmark runner")

	dir, err := os.MkdirTemp("", "strata-bench-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	eng, err := engine.Open(engine.Config{DataDir: dir}, util.NewLogger())
	if err != nil {
		return err
	}
	defer eng.Close()

	err = eng.CreateTable(catalog.TableSchema{
		Name: benchTable,
		Columns: []catalog.ColumnMetadata{
			{Name: "id", Type: catalog.TypeBigInt},
			{Name: "payload", Type: catalog.TypeBlob},
		},
		PrimaryKey: []string{"id"},
		Strategy:   viper.GetString("strategy"),
	})
	if err != nil {
		return err
	}

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Printf("Rows: %d\n", benchKeySpread)
	fmt.Printf("Payload: %d bytes\n", benchValueSize)
	fmt.Println()

	fmt.Println("starting benchmarks...")

	payload := make([]byte, benchValueSize)
	var nextID atomic.Int64
	nextID.Store(int64(benchKeySpread))

	// Seed the rows the read benchmarks operate on.
	tx := eng.Begin(txn.ReadCommitted)
	for i := 0; i < benchKeySpread; i++ {
		err := eng.Insert(tx, benchTable, catalog.Row{
			"id": catalog.NewBigInt(int64(i)), "payload": catalog.NewBlob(payload),
		})
		if err != nil {
			return err
		}
	}
	if err := eng.Commit(tx.ID); err != nil {
		return err
	}

	results := make(map[string]testing.BenchmarkResult)

	insertResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("insert") {
			return
		}

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				tx := eng.Begin(txn.ReadCommitted)
				err := eng.Insert(tx, benchTable, catalog.Row{
					"id": catalog.NewBigInt(nextID.Add(1)), "payload": catalog.NewBlob(payload),
				})
				if err != nil {
					log.Printf("(insert) - error inserting row: %v\n", err)
				}
				if err := eng.Commit(tx.ID); err != nil {
					log.Printf("(insert) - error committing: %v\n", err)
				}
			}
		})
	})

	results["insert"] = insertResult
	printResult("insert", insertResult)

	getResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				tx := eng.Begin(txn.ReadCommitted)
				_, _, err := eng.Get(tx, benchTable, benchPK(counter))
				if err != nil {
					log.Printf("(get) - error reading row: %v\n", err)
				}
				_ = eng.Commit(tx.ID)
				counter++
			}
		})
	})

	results["get"] = getResult
	printResult("get", getResult)

	updateResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("update") {
			return
		}

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				tx := eng.Begin(txn.ReadCommitted)
				_, err := eng.Update(tx, benchTable, benchPK(counter),
					catalog.Row{"payload": catalog.NewBlob(payload)})
				if err != nil {
					log.Printf("(update) - error updating row: %v\n", err)
				}
				if err := eng.Commit(tx.ID); err != nil {
					log.Printf("(update) - error committing: %v\n", err)
				}
				counter++
			}
		})
	})

	results["update"] = updateResult
	printResult("update", updateResult)

	scanResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("scan") {
			return
		}

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				tx := eng.Begin(txn.ReadCommitted)
				it, err := eng.Scan(tx, benchTable)
				if err != nil {
					log.Printf("(scan) - error opening scan: %v\n", err)
					continue
				}
				for {
					if _, ok := it.Next(); !ok {
						break
					}
				}
				if err := it.Err(); err != nil {
					log.Printf("(scan) - error scanning: %v\n", err)
				}
				_ = eng.Commit(tx.ID)
			}
		})
	})

	results["scan"] = scanResult
	printResult("scan", scanResult)

	mixedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		b.SetParallelism(benchNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				tx := eng.Begin(txn.ReadCommitted)
				var err error
				switch counter % 4 {
				case 0: // insert
					err = eng.Insert(tx, benchTable, catalog.Row{
						"id": catalog.NewBigInt(nextID.Add(1)), "payload": catalog.NewBlob(payload),
					})
				case 1, 2: // get
					_, _, err = eng.Get(tx, benchTable, benchPK(counter))
				case 3: // update
					_, err = eng.Update(tx, benchTable, benchPK(counter),
						catalog.Row{"payload": catalog.NewBlob(payload)})
				}

				if err != nil {
					log.Printf("(mixed) - error performing operation (%d): %v\n", counter%4, err)
				}
				if err := eng.Commit(tx.ID); err != nil {
					log.Printf("(mixed) - error committing: %v\n", err)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedResult
	printResult("mixed", mixedResult)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// benchPK returns the primary key of one of the seeded rows (with wraparound)
func benchPK(i int) catalog.Row {
	return catalog.Row{"id": catalog.NewBigInt(int64(i % benchKeySpread))}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Strategy", "Threads", "ValueSizeBytes", "RowCount",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
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
			viper.GetString("strategy"),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchValueSize),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
