package server

import (
	"testing"
	"time"

	"github.com/wedaly/caesium/internal/config"
)

func testBackpressureConfig() config.BackpressureConfig {
	return config.BackpressureConfig{
		Enabled: true,
		Thresholds: config.BackpressureThresholds{
			Warning:   0.50,
			Critical:  0.80,
			Emergency: 0.95,
		},
		Recovery: config.BackpressureRecovery{
			Hysteresis: 0.10,
			Cooldown:   0, // disabled for testing
		},
	}
}

func TestBackpressureLevel_String(t *testing.T) {
	tests := []struct {
		level    backpressureLevel
		expected string
	}{
		{levelNormal, "normal"},
		{levelWarning, "warning"},
		{levelCritical, "critical"},
		{levelEmergency, "emergency"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("level %d: expected %s, got %s", tt.level, tt.expected, got)
		}
	}
}

func TestBackpressureGate_Check(t *testing.T) {
	g := newBackpressureGate(testBackpressureConfig())

	if g.Check(0, 100) {
		t.Error("should not reject at 0% usage")
	}
	if g.CurrentLevel() != levelNormal {
		t.Errorf("expected normal, got %s", g.CurrentLevel())
	}

	// 55% usage -> warning, but warning alone does not reject.
	if g.Check(55, 100) {
		t.Error("should not reject at warning level")
	}
	if g.CurrentLevel() != levelWarning {
		t.Errorf("expected warning at 55%%, got %s", g.CurrentLevel())
	}

	// 85% usage -> critical, which starts rejecting.
	if !g.Check(85, 100) {
		t.Error("should reject at critical level")
	}
	if g.CurrentLevel() != levelCritical {
		t.Errorf("expected critical at 85%%, got %s", g.CurrentLevel())
	}

	// 97% usage -> emergency, which sheds too.
	if !g.Check(97, 100) {
		t.Error("should reject at emergency level")
	}
	if g.CurrentLevel() != levelEmergency {
		t.Errorf("expected emergency at 97%%, got %s", g.CurrentLevel())
	}
}

func TestBackpressureGate_Hysteresis(t *testing.T) {
	g := newBackpressureGate(testBackpressureConfig())

	g.Check(55, 100) // warning
	if g.CurrentLevel() != levelWarning {
		t.Fatalf("expected warning, got %s", g.CurrentLevel())
	}

	// Drop to 45% - stays in warning since the hysteresis floor is 40%.
	g.Check(45, 100)
	if g.CurrentLevel() != levelWarning {
		t.Errorf("expected warning to persist at 45%% (hysteresis), got %s", g.CurrentLevel())
	}

	// Drop below the hysteresis floor.
	g.Check(35, 100)
	if g.CurrentLevel() != levelNormal {
		t.Errorf("expected normal at 35%%, got %s", g.CurrentLevel())
	}
}

func TestBackpressureGate_Disabled(t *testing.T) {
	cfg := testBackpressureConfig()
	cfg.Enabled = false
	g := newBackpressureGate(cfg)

	if g.Check(100, 100) {
		t.Error("should never reject when disabled")
	}
	if g.CurrentLevel() != levelNormal {
		t.Errorf("expected normal when disabled, got %s", g.CurrentLevel())
	}
}

func TestBackpressureGate_Cooldown(t *testing.T) {
	cfg := testBackpressureConfig()
	cfg.Recovery.Cooldown = time.Hour
	g := newBackpressureGate(cfg)

	g.Check(0, 100)
	if g.CurrentLevel() != levelNormal {
		t.Fatalf("expected normal, got %s", g.CurrentLevel())
	}

	// A spike within the cooldown window should not move the level.
	if g.Check(99, 100) {
		t.Error("should not reject within the cooldown window")
	}
	if g.CurrentLevel() != levelNormal {
		t.Errorf("expected level to stay normal during cooldown, got %s", g.CurrentLevel())
	}
}

func TestBackpressureGate_Stats(t *testing.T) {
	g := newBackpressureGate(testBackpressureConfig())

	g.Check(55, 100) // -> warning
	g.Check(85, 100) // -> critical, rejected
	g.Check(85, 100) // still critical, rejected again

	stats := g.Stats()
	if stats.CurrentLevel != levelCritical {
		t.Errorf("expected critical, got %s", stats.CurrentLevel)
	}
	if stats.LevelChanges != 2 {
		t.Errorf("expected 2 level changes, got %d", stats.LevelChanges)
	}
	if stats.WarningCount != 1 {
		t.Errorf("expected 1 warning count, got %d", stats.WarningCount)
	}
	if stats.CriticalCount != 1 {
		t.Errorf("expected 1 critical count, got %d", stats.CriticalCount)
	}
	if stats.Rejected != 2 {
		t.Errorf("expected 2 rejections, got %d", stats.Rejected)
	}
}
