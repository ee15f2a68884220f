package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wedaly/caesium/internal/config"
)

// backpressureLevel classifies how saturated the write pool's queue is.
type backpressureLevel int32

const (
	levelNormal backpressureLevel = iota
	levelWarning
	levelCritical
	levelEmergency
)

func (l backpressureLevel) String() string {
	switch l {
	case levelNormal:
		return "normal"
	case levelWarning:
		return "warning"
	case levelCritical:
		return "critical"
	case levelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// backpressureGate watches the write pool's queue-depth ratio and decides
// when to start rejecting new inserts at the socket, before they ever
// reach Pool.Submit. It implements the thresholds/hysteresis/cooldown
// state machine the config schema documents.
type backpressureGate struct {
	cfg config.BackpressureConfig

	mu        sync.Mutex
	level     atomic.Int32
	lastLevel backpressureLevel
	lastCheck time.Time

	levelChanges   atomic.Int64
	warningCount   atomic.Int64
	criticalCount  atomic.Int64
	emergencyCount atomic.Int64
	rejected       atomic.Int64
}

func newBackpressureGate(cfg config.BackpressureConfig) *backpressureGate {
	return &backpressureGate{cfg: cfg}
}

// Check recomputes the current level from the write pool's queue depth
// and reports whether a new insert should be rejected at this level.
// Cheap to call on every insert: the cooldown skips recomputation, and
// the level itself is read from an atomic without the lock.
func (g *backpressureGate) Check(queueLen, queueCap int) bool {
	if !g.cfg.Enabled || queueCap == 0 {
		return false
	}

	now := time.Now()
	g.mu.Lock()
	if now.Sub(g.lastCheck) >= g.cfg.Recovery.Cooldown {
		g.lastCheck = now
		usage := float64(queueLen) / float64(queueCap)
		newLevel := g.determineLevel(usage)
		if newLevel != g.lastLevel {
			g.setLevel(newLevel)
		}
	}
	g.mu.Unlock()

	return g.shouldReject()
}

// determineLevel applies the configured thresholds going up, and
// hysteresis-adjusted thresholds going back down, so the level doesn't
// flap across a boundary under noisy load. Caller holds g.mu.
func (g *backpressureGate) determineLevel(usage float64) backpressureLevel {
	t := g.cfg.Thresholds
	hysteresis := g.cfg.Recovery.Hysteresis

	if usage >= t.Emergency {
		return levelEmergency
	}
	if usage >= t.Critical {
		return levelCritical
	}
	if usage >= t.Warning {
		return levelWarning
	}

	switch g.lastLevel {
	case levelEmergency:
		if usage < t.Emergency-hysteresis {
			return levelCritical
		}
		return levelEmergency
	case levelCritical:
		if usage < t.Critical-hysteresis {
			return levelWarning
		}
		return levelCritical
	case levelWarning:
		if usage < t.Warning-hysteresis {
			return levelNormal
		}
		return levelWarning
	default:
		return levelNormal
	}
}

// setLevel records the transition. Caller holds g.mu.
func (g *backpressureGate) setLevel(newLevel backpressureLevel) {
	g.lastLevel = newLevel
	g.level.Store(int32(newLevel))
	g.levelChanges.Add(1)

	switch newLevel {
	case levelWarning:
		g.warningCount.Add(1)
	case levelCritical:
		g.criticalCount.Add(1)
	case levelEmergency:
		g.emergencyCount.Add(1)
	}

	log.Info("backpressure level changed", "level", newLevel.String())
}

// shouldReject reports whether the current level warrants rejecting new
// inserts: critical and emergency both reject at the socket, in the same
// way, rather than queueing work the pool can't keep up with; normal and
// warning reject nothing.
func (g *backpressureGate) shouldReject() bool {
	reject := backpressureLevel(g.level.Load()) >= levelCritical
	if reject {
		g.rejected.Add(1)
	}
	return reject
}

// CurrentLevel returns the gate's current level.
func (g *backpressureGate) CurrentLevel() backpressureLevel {
	return backpressureLevel(g.level.Load())
}

// backpressureStats is a point-in-time snapshot of the gate's counters.
type backpressureStats struct {
	CurrentLevel   backpressureLevel
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	Rejected       int64
}

// Stats returns a snapshot of the gate's counters.
func (g *backpressureGate) Stats() backpressureStats {
	return backpressureStats{
		CurrentLevel:   g.CurrentLevel(),
		LevelChanges:   g.levelChanges.Load(),
		WarningCount:   g.warningCount.Load(),
		CriticalCount:  g.criticalCount.Load(),
		EmergencyCount: g.emergencyCount.Load(),
		Rejected:       g.rejected.Load(),
	}
}
