// Command worker consumes reservation requests from the broker, runs them
// through the admission engine and publishes the responses. Run any
// number of them next to API servers started with
// BROKER_EMBEDDED_WORKER=false.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/app"
	"github.com/iliyamo/concert-seat-admission/internal/config"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
	"github.com/iliyamo/concert-seat-admission/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadWorker()
	adm := config.LoadAdmissionConfig()
	bcfg := config.LoadBrokerConfig()
	logger := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := app.Build(ctx, cfg, adm, logger, nil)
	if err != nil {
		logger.WithError(err).Fatal("build admission engine")
	}
	defer eng.Close()

	broker := queue.NewAMQPBroker(bcfg.URL, bcfg.Prefetch, logger)
	defer broker.Close()

	worker := queue.NewWorker(eng.Service, broker, bcfg.ResponseTopic, logger)
	var wg sync.WaitGroup
	for i := 0; i < bcfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := worker.Run(ctx, broker, bcfg.RequestTopic); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).WithField("consumer", n).Error("worker stopped")
			}
		}(i)
	}
	logger.WithFields(logrus.Fields{
		"topic":       bcfg.RequestTopic,
		"concurrency": bcfg.WorkerConcurrency,
	}).Info("worker started")

	<-ctx.Done()
	logger.Info("worker shutting down")
	wg.Wait()
}
