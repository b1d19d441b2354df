package bootstrap

import (
	"context"
	"fmt"
	"net"

	"github.com/gorilla/mux"
	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/constant"
	httpHandler "github.com/krobus00/crypto-catalog-service/internal/handler/catalog/http"
	"github.com/krobus00/crypto-catalog-service/internal/infrastructure"
	"github.com/krobus00/crypto-catalog-service/internal/service/catalog"
	"github.com/krobus00/crypto-catalog-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartCatalogGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := newCatalogDeps(ctx, true)

	catalogService := catalog.NewCatalogService(deps.assetRepo, deps.assetCache, deps.provider, deps.locker)
	refreshService := deps.newRefreshService()

	deps.startRefreshConsumers(ctx, refreshService)
	refreshScheduler := startScheduler(refreshService)

	grpcServer, healthServer := infrastructure.NewGRPCHealthServer(config.Env.Env == constant.DevelopmentEnvironment)
	infrastructure.StartHealthReporter(ctx, healthServer, config.ServiceName,
		config.Env.Database[constant.CatalogDatabase].PingInterval, deps.healthChecks())

	grpcPort := fmt.Sprintf(":%s", config.Env.Port["grpc"])

	lis, err := net.Listen("tcp", grpcPort)
	util.ContinueOrFatal(err)

	go func() {
		_ = grpcServer.Serve(lis)
	}()
	logrus.Info(fmt.Sprintf("grpc server started on %s", grpcPort))

	router := mux.NewRouter()
	httpHandler.NewCatalogHTTPHandler(config.Env.AppName, catalogService, refreshService).Register(router)

	httpPort := fmt.Sprintf(":%s", config.Env.Port["http"])
	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, router)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	wait := gracefulShutdown(config.Env.GracefulShutdownTimeout,
		map[string]operation{
			"http": httpServer.Shutdown,
			"grpc": func(ctx context.Context) error {
				stopped := make(chan struct{})
				go func() {
					grpcServer.GracefulStop()
					close(stopped)
				}()

				select {
				case <-stopped:
					return nil
				case <-ctx.Done():
					grpcServer.Stop()
					return ctx.Err()
				}
			},
			"refresh scheduler": stopScheduler(refreshScheduler),
		},
		deps.brokerShutdownOps(),
		deps.storageShutdownOps(cancel),
	)

	<-wait
}
