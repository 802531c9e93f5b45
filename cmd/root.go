package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/strata-db/strata/cmd/bench"
	"github.com/strata-db/strata/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "strata",
		Short: "embeddable storage engine",
		Long: fmt.Sprintf(`strata (v%s)

An embeddable storage engine with adaptive per-table backends,
MVCC row versioning and write-ahead logging.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of strata",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("strata v%s\n", Version)
		},
	}

	tablesCmd = &cobra.Command{
		Use:     "tables",
		Short:   "List the tables of a data directory",
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := util.OpenEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			for _, schema := range eng.Tables() {
				strategy := schema.Strategy
				if strategy == "" {
					strategy = "auto"
				}
				fmt.Printf("%s\t%d columns\tstrategy=%s\n", schema.Name, len(schema.Columns), strategy)
			}
			return nil
		},
	}

	statsCmd = &cobra.Command{
		Use:     "stats",
		Short:   "Print storage statistics for a data directory",
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := util.OpenEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			stats := eng.GetStorageStats()
			fmt.Printf("reads: %d\twrites: %d\n", stats.Reads, stats.Writes)
			fmt.Printf("bytes used: %d\tcompression: %.2fx\tcache hit rate: %.2f\n",
				stats.BytesUsed, stats.CompressionRatio, stats.CacheHitRate)
			for name, ts := range stats.Tables {
				fmt.Printf("  %s\tstrategy=%s\tentries=%d\truns=%d\n",
					name, ts.Strategy, ts.Entries, ts.Runs)
			}
			return nil
		},
	}

	maintainCmd = &cobra.Command{
		Use:     "maintain",
		Short:   "Run maintenance on a data directory",
		Long:    "Flush write buffers, compact run-heavy tables and print strategy recommendations. With --adapt, migrate tables to their recommended strategy.",
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := util.OpenEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.PerformMaintenance(); err != nil {
				return err
			}
			for _, rec := range eng.AnalyzeEfficiency() {
				fmt.Printf("%s: %s -> %s (%s)\n", rec.Table, rec.Current, rec.Recommended, rec.Reason)
			}
			if adapt, _ := cmd.Flags().GetBool("adapt"); adapt {
				return eng.AdaptStrategies()
			}
			return nil
		},
	}
)

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(tablesCmd)
	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(maintainCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "config"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("Path to a YAML config file"))
	key = "data-dir"
	RootCmd.PersistentFlags().String(key, "data", util.WrapString("Data directory holding the catalog and the write-ahead log"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("Log level (debug, info, warn, error)"))

	maintainCmd.Flags().Bool("adapt", false, util.WrapString("Migrate tables to their recommended strategy"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
