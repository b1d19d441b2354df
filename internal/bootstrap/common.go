package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

type operation func(ctx context.Context) error

// gracefulShutdown waits for termination syscalls and runs the clean up stages
// in order once one arrives. Operations inside a stage run concurrently.
func gracefulShutdown(timeout time.Duration, stages ...map[string]operation) <-chan struct{} {
	wait := make(chan struct{})
	go func() {
		s := make(chan os.Signal, 1)

		// add any other syscalls that you want to be notified with
		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		sig := <-s

		logrus.WithField("signal", sig.String()).Info("shutting down")

		// set timeout for the ops to be done to prevent system hang
		timeoutFunc := time.AfterFunc(timeout+time.Second, func() {
			logrus.Error(fmt.Sprintf("timeout %d ms has been elapsed, force exit", timeout.Milliseconds()))
			os.Exit(1)
		})
		defer timeoutFunc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for _, ops := range stages {
			runShutdownStage(ctx, ops)
		}

		close(wait)
	}()

	return wait
}

func runShutdownStage(ctx context.Context, ops map[string]operation) {
	var wg sync.WaitGroup

	for key, op := range ops {
		if op == nil {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			logrus.Info(fmt.Sprintf("cleaning up: %s", key))
			if err := op(ctx); err != nil {
				logrus.Error(fmt.Sprintf("%s: clean up failed: %s", key, err.Error()))
				return
			}

			logrus.Info(fmt.Sprintf("%s was shutdown gracefully", key))
		}()
	}

	wg.Wait()
}
