package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/app"
	"github.com/iliyamo/concert-seat-admission/internal/config"
	"github.com/iliyamo/concert-seat-admission/internal/correlation"
	"github.com/iliyamo/concert-seat-admission/internal/handler"
	"github.com/iliyamo/concert-seat-admission/internal/middleware"
	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
	"github.com/iliyamo/concert-seat-admission/internal/queue"
	"github.com/iliyamo/concert-seat-admission/internal/router"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine; the OS environment wins

	cfg := config.Load()
	adm := config.LoadAdmissionConfig()
	bcfg := config.LoadBrokerConfig()
	logger := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	// Cancel context on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	eng, err := app.Build(ctx, cfg, adm, logger, metrics)
	if err != nil {
		logger.WithError(err).Fatal("build admission engine")
	}
	defer eng.Close()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).WithField("component", name).Error("background component stopped")
			}
		}()
	}

	if adm.ExpiryInterval > 0 {
		spawn("queue-expiry", func(ctx context.Context) error {
			eng.Queue.RunExpiry(ctx, adm.ExpiryInterval, adm.QueueMaxAge)
			return nil
		})
	}

	// Async path: requests go out on the broker and responses are matched
	// back to waiting HTTP handlers by correlation ID.
	var broker queue.Broker
	if bcfg.Driver == config.BrokerMemory {
		broker = queue.NewMemoryBroker(bcfg.MemoryBuffer, logger)
	} else {
		broker = queue.NewAMQPBroker(bcfg.URL, bcfg.Prefetch, logger)
	}
	corr := correlation.New[model.AccessToken](metrics)
	listener := queue.NewResponseListener(corr, logger)
	spawn("response-listener", func(ctx context.Context) error {
		return listener.Run(ctx, broker, bcfg.ResponseTopic)
	})
	if bcfg.EmbeddedWorker {
		worker := queue.NewWorker(eng.Service, broker, bcfg.ResponseTopic, logger)
		for i := 0; i < bcfg.WorkerConcurrency; i++ {
			spawn("request-worker", func(ctx context.Context) error {
				return worker.Run(ctx, broker, bcfg.RequestTopic)
			})
		}
	}
	dispatcher := queue.NewDispatcher(broker, corr, bcfg.RequestTopic, bcfg.ResponseTimeout, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": v.RequestID,
			}).Info("request")
			return nil
		},
	}))

	var db handler.Pinger
	if eng.DB != nil {
		db = eng.DB
	}
	router.RegisterRoutes(e, db, reg)
	router.RegisterReservations(e,
		handler.NewReservationHandler(eng.Service, dispatcher, logger),
		eng.Issuer,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), eng.Redis, logger),
	)

	addr := ":" + cfg.Port
	spawn("http", func(ctx context.Context) error {
		logger.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop() // trigger shutdown
			return err
		}
		return nil
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	if err := broker.Close(); err != nil {
		logger.WithError(err).Error("broker close")
	}
	wg.Wait()
	logger.Info("server exiting")
}
