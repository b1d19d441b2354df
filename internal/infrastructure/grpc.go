package infrastructure

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type HealthCheck func(ctx context.Context) error

// NewGRPCHealthServer returns a grpc server exposing the standard health
// service. Reflection is only registered when enableReflection is set.
func NewGRPCHealthServer(enableReflection bool) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	if enableReflection {
		reflection.Register(grpcServer)
	}

	return grpcServer, healthServer
}

// StartHealthReporter runs every check on interval and flips the serving status
// of service accordingly.
func StartHealthReporter(ctx context.Context, healthServer *health.Server, service string, interval time.Duration, checks map[string]HealthCheck) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	report := func() {
		status := healthpb.HealthCheckResponse_SERVING
		for name, check := range checks {
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			err := check(checkCtx)
			cancel()
			if err != nil {
				logrus.WithField("check", name).Warnf("health check failed: %v", err)
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
		}
		healthServer.SetServingStatus(service, status)
		healthServer.SetServingStatus("", status)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		report()
		for {
			select {
			case <-ctx.Done():
				healthServer.Shutdown()
				return
			case <-ticker.C:
				report()
			}
		}
	}()
}
