/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/crypto-catalog-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// refreshWorkerCmd represents the refresh-worker command
var refreshWorkerCmd = &cobra.Command{
	Use:   "refresh-worker",
	Short: "Start the metadata refresh worker",
	Long: `The refresh worker runs the periodic metadata refresh and consumes
queued refresh requests without serving http.`,
	Run: bootstrap.StartRefreshWorker,
}

func init() {
	rootCmd.AddCommand(refreshWorkerCmd)
}
