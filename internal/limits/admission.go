package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Admission rate-limits connection attempts at the upgrade endpoint.
// Two levels: a global token bucket protects the process as a whole, a
// per-IP bucket keeps one client from eating the global budget.
type Admission struct {
	mu      sync.Mutex
	perIP   map[string]*ipEntry
	ipRate  rate.Limit
	ipBurst int
	ipTTL   time.Duration

	global *rate.Limiter
	logger zerolog.Logger
	stop   chan struct{}
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AdmissionConfig holds admission limiter settings. Zero values fall back to
// defaults: per-IP 10 burst / 2 conn/s / 5min TTL, global 300 burst / 50 conn/s.
type AdmissionConfig struct {
	IPRate      float64
	IPBurst     int
	IPTTL       time.Duration
	GlobalRate  float64
	GlobalBurst int
}

// NewAdmission creates the limiter and starts its stale-IP sweep.
func NewAdmission(cfg AdmissionConfig, logger zerolog.Logger) *Admission {
	if cfg.IPRate == 0 {
		cfg.IPRate = 2.0
	}
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}

	a := &Admission{
		perIP:   make(map[string]*ipEntry),
		ipRate:  rate.Limit(cfg.IPRate),
		ipBurst: cfg.IPBurst,
		ipTTL:   cfg.IPTTL,
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:  logger.With().Str("component", "admission").Logger(),
		stop:    make(chan struct{}),
	}
	go a.sweep()
	return a
}

// Allow reports whether a connection attempt from ip may proceed.
func (a *Admission) Allow(ip string) bool {
	if !a.global.Allow() {
		a.logger.Debug().Str("ip", ip).Msg("connection rejected: global rate")
		return false
	}

	a.mu.Lock()
	e, ok := a.perIP[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(a.ipRate, a.ipBurst)}
		a.perIP[ip] = e
	}
	e.lastSeen = time.Now()
	a.mu.Unlock()

	if !e.limiter.Allow() {
		a.logger.Debug().Str("ip", ip).Msg("connection rejected: per-ip rate")
		return false
	}
	return true
}

func (a *Admission) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			a.mu.Lock()
			for ip, e := range a.perIP {
				if now.Sub(e.lastSeen) > a.ipTTL {
					delete(a.perIP, ip)
				}
			}
			a.mu.Unlock()
		case <-a.stop:
			return
		}
	}
}

// Stop terminates the sweep goroutine.
func (a *Admission) Stop() { close(a.stop) }
