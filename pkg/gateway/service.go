package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"actorbridge/pkg/bus"
	"actorbridge/pkg/channel"
	"actorbridge/pkg/config"
	"actorbridge/pkg/system"
)

const (
	defaultHealthHost = config.DefaultGatewayHost
	defaultHealthPort = config.DefaultGatewayPort
)

// Service hosts the actor runtime, the channel adapters and the status
// server. On stop it drains the runtime before detaching adapters, so
// replies for accepted messages still reach their channel.
type Service struct {
	cfg          *config.Config
	log          *slog.Logger
	runtime      *system.Runtime
	channels     []channel.Adapter
	drainTimeout time.Duration

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Runtime       *system.Stats           `json:"runtime,omitempty"`
	Channels      map[string]channelState `json:"channels"`
}

func NewService(cfg *config.Config, rt *system.Runtime, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if rt == nil {
		return nil, errors.New("runtime is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		if _, exists := channelStates[adapter.Name()]; exists {
			return nil, fmt.Errorf("channel %s configured twice", adapter.Name())
		}
		channelStates[adapter.Name()] = channelState{}
	}

	drainTimeout := time.Duration(cfg.Runtime.DrainTimeoutSeconds) * time.Second
	if drainTimeout <= 0 {
		drainTimeout = config.DefaultDrainTimeoutSeconds * time.Second
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		runtime:       rt,
		channels:      adapters,
		drainTimeout:  drainTimeout,
		channelStates: channelStates,
	}, nil
}

// Run starts the runtime and every adapter and blocks until ctx ends or a
// component fails. Either way the runtime is drained before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	observeCtx, stopObserving := context.WithCancel(context.Background())
	defer stopObserving()
	go bus.Observe(observeCtx, s.runtime.Events(), s.log)

	if err := s.runtime.Init(); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	server := s.newHealthServer()
	serverErrors := make(chan error, 1)
	go s.runHealthServer(server, serverErrors)

	// Adapters outlive ctx until the drain finishes.
	adapterCtx, cancelAdapters := context.WithCancel(context.Background())
	defer cancelAdapters()

	var adapters sync.WaitGroup
	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		adapters.Add(1)
		go func() {
			defer adapters.Done()
			err := adapter.Run(adapterCtx, s.runtime)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrors:
	case runErr = <-errCh:
	}

	s.stop(server, cancelAdapters, &adapters)
	return runErr
}

func (s *Service) stop(server *http.Server, cancelAdapters context.CancelFunc, adapters *sync.WaitGroup) {
	s.log.Info("Gateway stopping", "drain_timeout", s.drainTimeout)

	drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	if err := s.runtime.Shutdown(drainCtx); err != nil {
		s.log.Warn("Runtime drain incomplete", "error", err)
	}

	cancelAdapters()
	adapters.Wait()

	shutdownCtx, cancelServer := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelServer()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Status server shutdown failed", "error", err)
	}

	stats := s.runtime.Stats()
	s.log.Info("Gateway stopped", "submitted", stats.Submitted, "completed", stats.Completed, "failed", stats.Failed, "canceled", stats.Canceled)
}

func (s *Service) newHealthServer() *http.Server {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/statusz", s.handleStatus)
	for _, adapter := range s.channels {
		if mounted, ok := adapter.(channel.HTTPAdapter); ok {
			mux.Handle(mounted.Pattern(), mounted)
			s.log.Debug("Mounted channel handler", "channel", adapter.Name(), "path", mounted.Pattern())
		}
	}

	return &http.Server{
		Addr:              host + ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Service) runHealthServer(server *http.Server, errCh chan<- error) {
	s.log.Info("Gateway status server started", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok", false)
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status, false)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, s.runtime.State().String(), true)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string, withRuntime bool) {
	payload := s.currentStatus(status)
	if withRuntime {
		stats := s.runtime.Stats()
		payload.Runtime = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channels:      channels,
	}
}

// isReady reports whether the runtime accepts messages and at least one
// channel can deliver them.
func (s *Service) isReady() bool {
	if s.runtime == nil || s.runtime.State() != system.StateRunning {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
