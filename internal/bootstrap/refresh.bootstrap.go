package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/krobus00/crypto-catalog-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartRefresh refreshes one symbol, or every asset when no symbol is given,
// and exits.
func StartRefresh(cmd *cobra.Command, args []string) {
	symbol, _ := cmd.Flags().GetString("symbol")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := newCatalogDeps(ctx, false)
	defer func() {
		_ = deps.db.Close()
		_ = deps.redisClient.Close()
	}()

	refreshService := deps.newRefreshService()

	if symbol != "" {
		asset, err := refreshService.RefreshOne(ctx, symbol)
		util.ContinueOrFatal(err)

		logrus.WithFields(logrus.Fields{
			"symbol":     asset.Symbol,
			"updated_at": asset.UpdatedAt,
		}).Info("asset refreshed")
		return
	}

	report, err := refreshService.TriggerRefreshAll(ctx)
	if report != nil {
		logrus.WithFields(logrus.Fields{
			"run_id":    report.RunID,
			"total":     report.Total,
			"refreshed": report.Refreshed,
			"skipped":   report.Skipped,
			"failed":    report.FailedSymbols(),
		}).Info("refresh finished")
	}
	util.ContinueOrFatal(err)
}
