package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"actorbridge/pkg/bus"
	"actorbridge/pkg/config"
	"actorbridge/pkg/dispatch"
	"actorbridge/pkg/logger"
	"actorbridge/pkg/system"
)

const (
	statusOK             = 0
	statusNotInitialized = 1
	statusQueueClosed    = 2
	statusQueueFull      = 3
	statusInvalidArgs    = 4
	statusInternal       = 5
)

// library is the process-wide runtime behind the exported functions.
type library struct {
	mu         sync.Mutex
	rt         *system.Runtime
	log        *slog.Logger
	drain      time.Duration
	newRuntime func() (*system.Runtime, *slog.Logger, time.Duration, error)
}

var lib = &library{newRuntime: runtimeFromConfig}

func runtimeFromConfig() (*system.Runtime, *slog.Logger, time.Duration, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, 0, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, 0, err
	}

	rt, err := system.NewFromConfig(cfg.Runtime, system.WithLogger(log))
	if err != nil {
		return nil, nil, 0, err
	}

	return rt, log.With("component", "capi"), time.Duration(cfg.Runtime.DrainTimeoutSeconds) * time.Second, nil
}

func (l *library) init() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rt == nil {
		rt, log, drain, err := l.newRuntime()
		if err != nil {
			slog.Default().Error("Failed to build runtime", "component", "capi", "error", err)
			return statusInternal
		}
		l.rt, l.log, l.drain = rt, log, drain
	}

	return statusFor(l.rt.Init())
}

func (l *library) runtime() *system.Runtime {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt
}

// send submits text to the default actor. deliver receives the response
// text, which is the JSON error envelope when processing failed.
func (l *library) send(text string, deliver func(string)) int {
	if deliver == nil {
		return statusInvalidArgs
	}

	rt := l.runtime()
	if rt == nil {
		return statusNotInitialized
	}

	_, err := rt.SendMessage(text, dispatch.CallbackFunc(func(resp dispatch.Response) {
		deliver(resp.Text)
	}))
	return statusFor(err)
}

// listen forwards every runtime event of eventType to deliver as a JSON
// document. Subscriptions end when the runtime stops.
func (l *library) listen(eventType string, deliver func(string)) int {
	if deliver == nil || !bus.EventType(eventType).Known() {
		return statusInvalidArgs
	}

	rt := l.runtime()
	if rt == nil {
		return statusNotInitialized
	}

	rt.Events().Listen(context.Background(), bus.EventType(eventType), func(event bus.Event) {
		data, err := json.Marshal(event)
		if err != nil {
			l.runtimeLog().Warn("Failed to encode event", "event_type", event.Type, "error", err)
			return
		}
		deliver(string(data))
	})
	return statusOK
}

func (l *library) runtimeLog() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.log == nil {
		return slog.Default()
	}
	return l.log
}

// shutdown drains the runtime for at most timeout. A non-positive timeout
// uses the configured drain timeout.
func (l *library) shutdown(timeout time.Duration) int {
	l.mu.Lock()
	rt, log, drain := l.rt, l.log, l.drain
	l.mu.Unlock()

	if rt == nil {
		return statusOK
	}
	if timeout <= 0 {
		timeout = drain
	}
	if timeout <= 0 {
		timeout = config.DefaultDrainTimeoutSeconds * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rt.Shutdown(ctx); err != nil {
		if log != nil {
			log.Warn("Runtime drain incomplete", "error", err)
		}
		return statusInternal
	}
	return statusOK
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, system.ErrNotInitialized):
		return statusNotInitialized
	case errors.Is(err, system.ErrQueueClosed), errors.Is(err, system.ErrStopped):
		return statusQueueClosed
	case errors.Is(err, system.ErrQueueFull):
		return statusQueueFull
	case errors.Is(err, system.ErrNilCallback), errors.Is(err, system.ErrUnknownActor):
		return statusInvalidArgs
	default:
		return statusInternal
	}
}
