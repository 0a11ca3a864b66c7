package config

import (
	"strings"
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/waitqueue"
)

// AdmissionConfig tunes the admission engine and the waiting queue.
type AdmissionConfig struct {
	LockMode      admission.LockMode
	MaxAttempts   int
	InitialDelay  time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	EscalateAfter int
	LockWait      time.Duration

	PerSlotWait    time.Duration // estimated service time per queue position
	QueueMaxAge    time.Duration // WAITING entries older than this expire
	ExpiryInterval time.Duration // 0 disables the expiry sweeper
}

func LoadAdmissionConfig() AdmissionConfig {
	def := admission.DefaultConfig()
	c := AdmissionConfig{
		LockMode:       admission.LockMode(strings.ToLower(envStr("ADMISSION_LOCK_MODE", string(def.LockMode)))),
		MaxAttempts:    envInt("ADMISSION_MAX_ATTEMPTS", def.Retry.MaxAttempts),
		InitialDelay:   envDur("ADMISSION_RETRY_DELAY", def.Retry.InitialDelay),
		Multiplier:     envFloat("ADMISSION_RETRY_MULTIPLIER", def.Retry.Multiplier),
		MaxDelay:       envDur("ADMISSION_RETRY_MAX_DELAY", 2*time.Second),
		EscalateAfter:  envInt("ADMISSION_ESCALATE_AFTER", def.EscalateAfter),
		LockWait:       envDur("ADMISSION_LOCK_WAIT", def.LockWait),
		PerSlotWait:    envDur("QUEUE_PER_SLOT_WAIT", waitqueue.DefaultPerSlot),
		QueueMaxAge:    envDur("QUEUE_MAX_AGE", 30*time.Minute),
		ExpiryInterval: envDur("QUEUE_EXPIRY_INTERVAL", time.Minute),
	}
	switch c.LockMode {
	case admission.LockOptimistic, admission.LockPessimistic, admission.LockAdaptive:
	default:
		c.LockMode = def.LockMode
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	return c
}

// Engine converts the settings into an admission.Config.
func (c AdmissionConfig) Engine() admission.Config {
	return admission.Config{
		Retry: admission.RetryPolicy{
			MaxAttempts:  c.MaxAttempts,
			InitialDelay: c.InitialDelay,
			Multiplier:   c.Multiplier,
			MaxDelay:     c.MaxDelay,
		},
		LockMode:      c.LockMode,
		EscalateAfter: c.EscalateAfter,
		LockWait:      c.LockWait,
	}
}
