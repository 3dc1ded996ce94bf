// Command nimbusc is a thin command-line shell over the core client
// library (pkg/nimbus): connect once, then run one KV or query operation
// and exit. It is an external consumer of the public Cluster/Bucket/
// Collection API, not part of the library's core (spec.md §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nimbusdb.io/nimbus/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nimbusc",
	Short: "nimbusc - command-line client for NimbusDB",
	Long: `nimbusc is a thin command-line shell over the NimbusDB Go client
library: get, upsert, remove and query a single document or statement
against a running cluster, using the same connection string and
options a program built on pkg/nimbus would.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("nimbusc version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("connstr", "couchbase://localhost", "cluster connection string")
	rootCmd.PersistentFlags().String("bucket", "default", "bucket name")
	rootCmd.PersistentFlags().String("scope", "_default", "scope name")
	rootCmd.PersistentFlags().String("collection", "_default", "collection name")
	rootCmd.PersistentFlags().String("username", "", "cluster username")
	rootCmd.PersistentFlags().String("password", "", "cluster password")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(upsertCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(pingCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
