package config

import (
	"testing"
	"time"
)

func TestLoadReconcileSettings_Defaults(t *testing.T) {
	s, err := LoadReconcileSettings()
	if err != nil {
		t.Fatalf("LoadReconcileSettings error: %v", err)
	}
	if s.PriceTolerance != 0.02 || s.HealthWindow != 10 || s.FetchTimeout != 30*time.Second || s.CriticalAfter != 3 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestLoadReconcileSettings_EnvOverrides(t *testing.T) {
	t.Setenv("RECONCILE_PRICE_TOLERANCE", "0.05")
	t.Setenv("RECONCILE_HEALTH_WINDOW", "20")
	t.Setenv("RECONCILE_SCHEDULE", "")
	t.Setenv("RECONCILE_HEARTBEAT_SECONDS", "0")

	s, err := LoadReconcileSettings()
	if err != nil {
		t.Fatalf("LoadReconcileSettings error: %v", err)
	}
	if s.PriceTolerance != 0.05 || s.HealthWindow != 20 {
		t.Fatalf("expected overrides applied, got %+v", s)
	}
	if s.Schedule != "" || s.HeartbeatInterval != 0 {
		t.Fatalf("expected scheduling disabled, got %q / %s", s.Schedule, s.HeartbeatInterval)
	}
}

func TestLoadReconcileSettings_Invalid(t *testing.T) {
	cases := map[string]string{
		"RECONCILE_PRICE_TOLERANCE": "1.5",
		"RECONCILE_HEALTH_WINDOW":   "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := LoadReconcileSettings(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, val)
			}
		})
	}
}

func TestEnvBoolDefault(t *testing.T) {
	t.Setenv("FLAG_ON", "yes")
	t.Setenv("FLAG_OFF", "0")
	t.Setenv("FLAG_ODD", "perhaps")
	if !EnvBoolDefault("FLAG_ON", false) || EnvBoolDefault("FLAG_OFF", true) || !EnvBoolDefault("FLAG_ODD", true) {
		t.Fatalf("unexpected EnvBoolDefault results")
	}
}
