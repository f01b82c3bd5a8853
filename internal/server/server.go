// Package server owns the WebSocket transport: handshake admission, auth,
// the per-connection read/write pumps and event dispatch into the chat core.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/pulseim/realtime/internal/auth"
	"github.com/pulseim/realtime/internal/chat"
	"github.com/pulseim/realtime/internal/limits"
	"github.com/pulseim/realtime/internal/presence"
	"github.com/pulseim/realtime/internal/worker"
)

// Config holds the transport settings.
type Config struct {
	Addr            string
	MaxConnections  int
	ShutdownTimeout time.Duration
}

// Deps are the collaborators the transport routes into.
type Deps struct {
	Registry  *presence.Registry
	Budgets   *limits.Tracker
	Admission *limits.Admission
	Workers   *worker.Pool
	Fanout    *chat.Fanout
	Reactions *chat.Reactions
	Calls     *chat.Calls
	Auth      *auth.JWTManager
}

// Server accepts, authenticates and pumps WebSocket connections.
type Server struct {
	config Config
	logger zerolog.Logger

	registry  *presence.Registry
	budgets   *limits.Tracker
	admission *limits.Admission
	workers   *worker.Pool
	fanout    *chat.Fanout
	reactions *chat.Reactions
	calls     *chat.Calls
	auth      *auth.JWTManager

	listener   net.Listener
	httpServer *http.Server

	clients        sync.Map // map[*Client]struct{}
	clientCount    int64
	currentConns   int64
	totalConns     int64
	connectionsSem chan struct{}
	memoryMB       atomic.Value // float64

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32
	startTime    time.Time
}

// New wires a server. Start must be called before it accepts connections.
func New(config Config, deps Deps, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:         config,
		logger:         logger.With().Str("component", "server").Logger(),
		registry:       deps.Registry,
		budgets:        deps.Budgets,
		admission:      deps.Admission,
		workers:        deps.Workers,
		fanout:         deps.Fanout,
		reactions:      deps.Reactions,
		calls:          deps.Calls,
		auth:           deps.Auth,
		connectionsSem: make(chan struct{}, config.MaxConnections),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	s.memoryMB.Store(float64(0))
	return s
}

// Start begins listening and serving. Non-blocking; errors from the accept
// loop are logged.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.logger.Info().
		Str("address", s.config.Addr).
		Int("max_connections", s.config.MaxConnections).
		Msg("Server listening")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", handleMetrics)

	s.httpServer = &http.Server{
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	s.wg.Add(1)
	go s.collectMetrics()

	return nil
}

// collectMetrics samples process memory and worker pool gauges.
func (s *Server) collectMetrics() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get process info")
		proc = nil
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if proc != nil {
				if memInfo, err := proc.MemoryInfo(); err == nil {
					memoryUsageBytes.Set(float64(memInfo.RSS))
					s.memoryMB.Store(float64(memInfo.RSS) / 1024 / 1024)
				}
			}
			workerQueueDepth.Set(float64(s.workers.QueueDepth()))
			workerTasksDropped.Set(float64(s.workers.Dropped()))
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !s.admission.Allow(ip) {
		connectionsFailed.Inc()
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	claims, err := s.auth.WebSocketAuth(r)
	if err != nil {
		connectionsFailed.Inc()
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Connection rejected: auth")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	select {
	case s.connectionsSem <- struct{}{}:
	default:
		connectionsFailed.Inc()
		s.logger.Warn().
			Int64("current_connections", atomic.LoadInt64(&s.currentConns)).
			Int("max_connections", s.config.MaxConnections).
			Msg("Connection rejected: server at capacity")
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.connectionsSem
		connectionsFailed.Inc()
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := newClient(atomic.AddInt64(&s.clientCount, 1), claims.UserID, claims.Name, conn, s)
	s.clients.Store(client, struct{}{})
	atomic.AddInt64(&s.totalConns, 1)
	connectionsTotal.Inc()
	connectionsActive.Set(float64(atomic.AddInt64(&s.currentConns, 1)))

	s.logger.Info().
		Int64("client_id", client.id).
		Str("user_id", client.userID).
		Msg("Client connected")

	// A newer connection of the same user evicts the old one.
	if evicted := s.registry.Attach(client); evicted != nil {
		sessionsEvicted.Inc()
		if old, ok := evicted.(*Client); ok {
			old.closeWithStatus(ws.StatusNormalClosure, "session replaced by a newer connection")
		}
	}

	go client.writePump()
	go client.readPump()
}

// disconnectClient tears one connection down: presence detach, budget
// release, socket close and bookkeeping. Invoked once, from the read pump.
func (s *Server) disconnectClient(c *Client) {
	s.registry.Detach(c)
	s.budgets.Release(c.id)
	c.close()

	if _, loaded := s.clients.LoadAndDelete(c); !loaded {
		return
	}
	connectionsActive.Set(float64(atomic.AddInt64(&s.currentConns, -1)))
	<-s.connectionsSem

	s.logger.Info().
		Int64("client_id", c.id).
		Str("user_id", c.userID).
		Dur("connection_duration", time.Since(c.connectedAt)).
		Msg("Client disconnected")
}

// handleHealth reports liveness plus capacity and resource detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	currentConns := atomic.LoadInt64(&s.currentConns)
	maxConns := int64(s.config.MaxConnections)
	capacityPercent := float64(currentConns) / float64(maxConns) * 100
	memMB, _ := s.memoryMB.Load().(float64)

	status := "healthy"
	warnings := []string{}
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		status = "draining"
	} else if capacityPercent >= 100 {
		status = "degraded"
		warnings = append(warnings, fmt.Sprintf("Server at full capacity (%d/%d)", currentConns, maxConns))
	} else if capacityPercent > 90 {
		status = "degraded"
		warnings = append(warnings, fmt.Sprintf("Server near capacity (%.1f%%)", capacityPercent))
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": map[string]any{
			"capacity": map[string]any{
				"current":    currentConns,
				"max":        maxConns,
				"percentage": capacityPercent,
			},
			"workers": map[string]any{
				"queue_depth": s.workers.QueueDepth(),
				"dropped":     s.workers.Dropped(),
			},
			"memory": map[string]any{
				"used_mb": memMB,
			},
			"presence": map[string]any{
				"online_users": s.registry.Count(),
			},
		},
		"warnings": warnings,
		"uptime":   time.Since(s.startTime).Seconds(),
	})
}

// Shutdown stops accepting connections, drains live ones within the grace
// period, then force-closes the remainder.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")

	atomic.StoreInt32(&s.shuttingDown, 1)
	if s.listener != nil {
		s.listener.Close()
	}

	grace := s.config.ShutdownTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	s.logger.Info().
		Int64("active_connections", atomic.LoadInt64(&s.currentConns)).
		Dur("grace_period", grace).
		Msg("Draining active connections")

	drainTimer := time.NewTimer(grace)
	checkTicker := time.NewTicker(time.Second)
	defer drainTimer.Stop()
	defer checkTicker.Stop()

drain:
	for {
		select {
		case <-drainTimer.C:
			remaining := atomic.LoadInt64(&s.currentConns)
			if remaining > 0 {
				s.logger.Warn().
					Int64("remaining_connections", remaining).
					Msg("Grace period expired, force closing remaining connections")
			}
			break drain
		case <-checkTicker.C:
			if atomic.LoadInt64(&s.currentConns) == 0 {
				s.logger.Info().Msg("All connections drained gracefully")
				break drain
			}
		}
	}

	s.clients.Range(func(key, _ any) bool {
		if client, ok := key.(*Client); ok {
			client.closeWithStatus(ws.StatusGoingAway, "server shutting down")
		}
		return true
	})

	s.cancel()
	s.wg.Wait()

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}
