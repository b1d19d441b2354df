package bootstrap

import (
	"context"
	"errors"

	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartRefreshWorker runs the periodic refresh and the async refresh consumer
// without serving http.
func StartRefreshWorker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := newCatalogDeps(ctx, true)
	if deps.js == nil && !config.Env.Refresh.SchedulerEnabled {
		util.ContinueOrFatal(errors.New("refresh worker has nothing to run: scheduler is disabled and nats_jetstream.url is empty"))
	}

	refreshService := deps.newRefreshService()

	deps.startRefreshConsumers(ctx, refreshService)
	refreshScheduler := startScheduler(refreshService)

	logrus.Info("refresh worker started")

	wait := gracefulShutdown(config.Env.GracefulShutdownTimeout,
		map[string]operation{
			"refresh scheduler": stopScheduler(refreshScheduler),
		},
		deps.brokerShutdownOps(),
		deps.storageShutdownOps(cancel),
	)

	<-wait
}
