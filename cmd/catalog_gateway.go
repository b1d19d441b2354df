/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/crypto-catalog-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// catalogGatewayCmd represents the catalog-gateway command
var catalogGatewayCmd = &cobra.Command{
	Use:   "catalog-gateway",
	Short: "Start the Catalog Gateway service",
	Long: `The Catalog Gateway serves the cryptocurrency catalog over http, reports
its health over grpc and keeps metadata fresh with the refresh scheduler and
the async refresh consumer.`,
	Run: bootstrap.StartCatalogGateway,
}

func init() {
	rootCmd.AddCommand(catalogGatewayCmd)
}
