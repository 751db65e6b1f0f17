/*
main.go - Application entry point

PURPOSE:
  Builds the parkingd command tree. Configuration comes from the
  environment (and .env), flags override the port and database.

COMMANDS:
  serve   HTTP API + background UF refresher, graceful shutdown
  rate    Refresh the UF cache once and print the snapshot

EXAMPLES:
  # Run against a file database
  parkingd serve --db ./data/parking.db

  # Run against PostgreSQL
  DB_DRIVER=postgres DB_DSN="postgres://localhost/parking?sslmode=disable" parkingd serve

  # Check the rate source
  parkingd rate

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/parking-ledger/config"
)

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "parkingd",
		Short:         "Parking ledger: resident billing, arrears and UF rates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(&cfg),
		rateCmd(&cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
