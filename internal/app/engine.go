// Package app wires the admission engine from configuration. Both the
// API server and the standalone worker build their engine here.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/config"
	"github.com/iliyamo/concert-seat-admission/internal/database"
	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
	"github.com/iliyamo/concert-seat-admission/internal/repository"
	"github.com/iliyamo/concert-seat-admission/internal/repository/memstore"
	"github.com/iliyamo/concert-seat-admission/internal/token"
	"github.com/iliyamo/concert-seat-admission/internal/waitqueue"
)

// newRedisClient is replaced in tests.
var newRedisClient = config.NewRedisClient

// Engine is a fully wired admission service and the parts the process
// runs alongside it.
type Engine struct {
	Service *admission.Service
	Queue   *waitqueue.Controller
	Issuer  *token.Issuer
	DB      *sql.DB // nil for the memory store
	Redis   *redis.Client
}

// Close releases the database and Redis connections.
func (e *Engine) Close() {
	if e.DB != nil {
		_ = e.DB.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
}

// Build opens the configured store, Redis (when the seat cache or the
// rate limiter is enabled) and assembles the admission service. Redis
// being unreachable only disables those two features.
func Build(ctx context.Context, cfg config.Config, adm config.AdmissionConfig, logger *logrus.Logger, metrics *obs.Metrics) (*Engine, error) {
	eng := &Engine{Issuer: token.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)}

	var (
		seats admission.SeatStore
		store waitqueue.Store
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory store; state is lost on restart")
		ms := memstore.NewSeatStore()
		seed(ms, cfg.SeedSeats, cfg.SeedDetails)
		seats, store = ms, memstore.NewQueueStore()
	default:
		db, err := database.Open(ctx, database.Options{
			User:         cfg.DBUser,
			Pass:         cfg.DBPass,
			Host:         cfg.DBHost,
			Port:         cfg.DBPort,
			Name:         cfg.DBName,
			MaxOpenConns: cfg.DBMaxOpenConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		eng.DB = db
		if cfg.MigrateOnStart {
			if err := database.Migrate(ctx, db); err != nil {
				eng.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("database schema migrated")
		}
		seats, store = repository.NewSeatRepo(db), repository.NewWaitingQueueRepo(db)
	}

	eng.Queue = waitqueue.New(store, adm.PerSlotWait,
		waitqueue.WithLogger(logger),
		waitqueue.WithMetrics(metrics),
	)

	// Redis backs both the seat cache and the HTTP rate limiter.
	opts := []admission.Option{admission.WithLogger(logger), admission.WithMetrics(metrics)}
	cc, rl := config.LoadSeatCacheConfig(), config.LoadRateLimitConfig()
	if cc.Enabled || rl.Enabled {
		rcfg := config.LoadRedisConfig()
		eng.Redis = newRedisClient(rcfg)
		switch {
		case eng.Redis == nil:
			logger.WithField("addr", rcfg.Addr).Warn("redis unavailable; seat cache and rate limiting disabled")
		case cc.Enabled:
			opts = append(opts, admission.WithSeatCache(repository.NewSeatCache(eng.Redis, cc.TTL, cc.Prefix)))
		}
	}

	eng.Service = admission.NewService(seats, eng.Queue, eng.Issuer, adm.Engine(), opts...)
	logger.WithFields(logrus.Fields{
		"store":     cfg.StoreDriver,
		"lock_mode": adm.LockMode,
	}).Info("admission engine ready")
	return eng, nil
}

// seed fills concert 1 with n seats of perSeat details each. Seat i has
// ID i, its details IDs i*1000+1 upward, and capacity perSeat.
func seed(s *memstore.SeatStore, n, perSeat int) {
	if perSeat < 1 {
		perSeat = 1
	}
	for i := 1; i <= n; i++ {
		seatID := uint64(i)
		details := make([]model.SeatDetail, perSeat)
		for j := range details {
			details[j] = model.SeatDetail{ID: seatID*1000 + uint64(j+1)}
		}
		s.AddSeat(model.Seat{ID: seatID, ConcertID: 1, MaxCapacity: perSeat}, details...)
	}
}
