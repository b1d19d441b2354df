/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/crypto-catalog-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh metadata once and exit",
	Long:  `Refresh the metadata of one asset, or of every asset when --symbol is empty.`,
	Run:   bootstrap.StartRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().String("symbol", "", "symbol to refresh, empty refreshes every asset")
}
