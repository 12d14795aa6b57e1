package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ReconcileSettings tunes the reconciliation engine. Every field has an env override.
//
// Set via env:
// - RECONCILE_PRICE_TOLERANCE=0.02
// - RECONCILE_HEALTH_WINDOW=10
// - RECONCILE_FETCH_TIMEOUT_SECONDS=30
// - RECONCILE_CRITICAL_AFTER=3
// - RECONCILE_SCHEDULE="*/15 * * * *" (empty disables scheduled runs)
// - RECONCILE_HEARTBEAT_SECONDS=60 (0 disables heartbeats)
// - RECONCILE_ALL_LOCK_TTL_SECONDS=300
// - RECONCILE_RUN_HISTORY=50
type ReconcileSettings struct {
	PriceTolerance    float64       `validate:"gte=0,lte=1"`
	HealthWindow      int           `validate:"min=1,max=100"`
	FetchTimeout      time.Duration `validate:"min=1s"`
	CriticalAfter     int           `validate:"min=1"`
	Schedule          string
	HeartbeatInterval time.Duration `validate:"min=0s"`
	AllLockTTL        time.Duration `validate:"min=1s"`
	RunHistory        int           `validate:"min=1"`
}

var settingsValidator = validator.New()

func DefaultReconcileSettings() ReconcileSettings {
	return ReconcileSettings{
		PriceTolerance:    0.02,
		HealthWindow:      10,
		FetchTimeout:      30 * time.Second,
		CriticalAfter:     3,
		Schedule:          "*/15 * * * *",
		HeartbeatInterval: time.Minute,
		AllLockTTL:        5 * time.Minute,
		RunHistory:        50,
	}
}

func LoadReconcileSettings() (ReconcileSettings, error) {
	s := DefaultReconcileSettings()
	if v := strings.TrimSpace(os.Getenv("RECONCILE_PRICE_TOLERANCE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s, fmt.Errorf("RECONCILE_PRICE_TOLERANCE: %w", err)
		}
		s.PriceTolerance = f
	}
	s.HealthWindow = intFromEnv("RECONCILE_HEALTH_WINDOW", s.HealthWindow)
	s.FetchTimeout = time.Duration(intFromEnv("RECONCILE_FETCH_TIMEOUT_SECONDS", int(s.FetchTimeout/time.Second))) * time.Second
	s.CriticalAfter = intFromEnv("RECONCILE_CRITICAL_AFTER", s.CriticalAfter)
	if v, ok := os.LookupEnv("RECONCILE_SCHEDULE"); ok {
		s.Schedule = strings.TrimSpace(v)
	}
	s.HeartbeatInterval = time.Duration(intFromEnv("RECONCILE_HEARTBEAT_SECONDS", int(s.HeartbeatInterval/time.Second))) * time.Second
	s.AllLockTTL = time.Duration(intFromEnv("RECONCILE_ALL_LOCK_TTL_SECONDS", int(s.AllLockTTL/time.Second))) * time.Second
	s.RunHistory = intFromEnv("RECONCILE_RUN_HISTORY", s.RunHistory)

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s ReconcileSettings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid reconcile settings: %w", err)
	}
	return nil
}

// EnvBoolDefault reads a yes/no style env var.
func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
