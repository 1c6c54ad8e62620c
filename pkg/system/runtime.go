package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"actorbridge/pkg/actor"
	"actorbridge/pkg/bus"
	"actorbridge/pkg/config"
	"actorbridge/pkg/dispatch"
	"actorbridge/pkg/queue"
)

// Runtime owns the actor mailboxes and workers and moves through
// Uninitialized, Running, ShuttingDown and Stopped exactly once.
type Runtime struct {
	log          *slog.Logger
	events       *bus.Bus
	ownsEvents   bool
	dispatcher   *dispatch.Dispatcher
	defaultActor string

	// actors is fixed after New.
	actors map[string]*actorCell
	names  []string

	seq              atomic.Uint64
	pending          atomic.Int64
	submitted        atomic.Uint64
	completed        atomic.Uint64
	failed           atomic.Uint64
	canceled         atomic.Uint64
	callbackFailures atomic.Uint64

	state atomic.Int32

	mu            sync.Mutex
	cancelWorkers context.CancelFunc
	workers       sync.WaitGroup
	closeOnce     sync.Once
	done          chan struct{}
}

type actorCell struct {
	name      string
	processor actor.Processor
	mailbox   *queue.Queue[actor.Message]
	workers   int
}

// New builds a runtime in the Uninitialized state. Without any WithActor
// option a single echo actor named config.DefaultActorName is registered.
func New(opts ...Option) (*Runtime, error) {
	o := options{
		defaultActor: config.DefaultActorName,
		workers:      1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.actors) == 0 {
		o.actors = []actorSpec{{
			name:  o.defaultActor,
			build: func(*Runtime) actor.Processor { return actor.Echo() },
		}}
	}

	log := o.log
	if log == nil {
		log = slog.Default()
	}

	r := &Runtime{
		log:          log.With("component", "system.runtime"),
		events:       o.events,
		defaultActor: o.defaultActor,
		actors:       make(map[string]*actorCell, len(o.actors)),
		done:         make(chan struct{}),
	}
	if r.events == nil {
		r.events = bus.New()
		r.ownsEvents = true
	}
	r.dispatcher = dispatch.New(log, r.events)

	for _, def := range o.actors {
		if def.name == "" {
			return nil, errors.New("actor name is required")
		}
		if _, exists := r.actors[def.name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateActor, def.name)
		}
		if def.build == nil {
			return nil, fmt.Errorf("actor %s: processor is required", def.name)
		}
		processor := def.build(r)
		if processor == nil {
			return nil, fmt.Errorf("actor %s: processor is required", def.name)
		}

		r.actors[def.name] = &actorCell{
			name:      def.name,
			processor: processor,
			mailbox:   queue.New[actor.Message](o.queueCapacity),
			workers:   o.workers,
		}
		r.names = append(r.names, def.name)
	}
	slices.Sort(r.names)

	if _, ok := r.actors[r.defaultActor]; !ok {
		return nil, fmt.Errorf("%w: default actor %q is not registered", ErrUnknownActor, r.defaultActor)
	}

	return r, nil
}

// NewFromConfig builds a runtime from the runtime section of config.json.
func NewFromConfig(cfg config.RuntimeConfig, opts ...Option) (*Runtime, error) {
	defaultActor := cfg.DefaultActor
	if defaultActor == "" {
		defaultActor = config.DefaultActorName
	}

	base := []Option{
		WithDefaultActor(defaultActor),
		WithWorkers(cfg.Workers),
		WithQueueCapacity(cfg.QueueCapacity),
	}

	names := make([]string, 0, len(cfg.Actors))
	for name := range cfg.Actors {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		actorCfg := cfg.Actors[name]
		for _, target := range actorTargets(actorCfg) {
			if _, ok := cfg.Actors[target]; !ok {
				return nil, fmt.Errorf("actor %s: %w: %s", name, ErrUnknownActor, target)
			}
		}

		build, err := processorFor(actorCfg)
		if err != nil {
			return nil, fmt.Errorf("actor %s: %w", name, err)
		}
		base = append(base, WithActorFunc(name, build))
	}

	if cycle := askCycle(cfg.Actors); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrAskCycle, strings.Join(cycle, " -> "))
	}

	return New(append(base, opts...)...)
}

// Init starts the workers. It is a no-op while Running.
func (r *Runtime) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case StateRunning:
		return nil
	case StateShuttingDown, StateStopped:
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(context.Background())

	workers := make([]*actor.Worker, 0, len(r.actors))
	for _, name := range r.names {
		cell := r.actors[name]
		for id := range cell.workers {
			w, err := actor.NewWorker(actor.WorkerConfig{
				Actor:        cell.name,
				ID:           id,
				Mailbox:      cell.mailbox,
				Processor:    cell.processor,
				Dispatcher:   r.dispatcher,
				Events:       r.events,
				Log:          r.log,
				OnDispatched: r.onDispatched,
			})
			if err != nil {
				cancel()
				return fmt.Errorf("start actor %s: %w", cell.name, err)
			}
			workers = append(workers, w)
		}
	}

	r.cancelWorkers = cancel
	for _, w := range workers {
		r.workers.Add(1)
		go func() {
			defer r.workers.Done()
			w.Run(ctx)
		}()
	}

	r.setState(StateRunning)
	r.log.Info("Runtime started", "actors", len(r.names), "workers", len(workers))
	return nil
}

// SendMessage submits text to the default actor. cb is invoked exactly once
// with the response; the returned sequence number identifies it.
func (r *Runtime) SendMessage(text string, cb dispatch.Callback) (uint64, error) {
	return r.send(r.defaultActor, text, cb, nil)
}

// SendTo submits text to a named actor.
func (r *Runtime) SendTo(actorName, text string, cb dispatch.Callback) (uint64, error) {
	return r.send(actorName, text, cb, nil)
}

// Ask submits text to actorName and blocks until its response arrives or ctx
// ends. Processors call it to talk to other actors. Asking any actor already
// blocked further up the ask chain is rejected with ErrSelfAsk, since that
// actor's worker is waiting on this very message.
func (r *Runtime) Ask(ctx context.Context, actorName, text string) (string, error) {
	chain := actor.AskChain(ctx)
	if slices.Contains(chain, actorName) {
		return "", fmt.Errorf("%w: %s -> %s", ErrSelfAsk, strings.Join(chain, " -> "), actorName)
	}

	result := make(chan dispatch.Response, 1)
	_, err := r.send(actorName, text, dispatch.CallbackFunc(func(resp dispatch.Response) {
		result <- resp
	}), chain)
	if err != nil {
		return "", err
	}

	select {
	case resp := <-result:
		if resp.Err != nil {
			return "", resp.Err
		}
		return resp.Text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// send enqueues one message. Sends with an ask chain come from running
// processors and stay accepted while in-flight work drains during shutdown.
func (r *Runtime) send(actorName, text string, cb dispatch.Callback, chain []string) (uint64, error) {
	if cb == nil {
		return 0, ErrNilCallback
	}

	switch r.State() {
	case StateUninitialized:
		return 0, ErrNotInitialized
	case StateShuttingDown:
		if len(chain) == 0 {
			return 0, ErrQueueClosed
		}
	case StateStopped:
		return 0, ErrQueueClosed
	}

	cell, ok := r.actors[actorName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownActor, actorName)
	}

	r.pending.Add(1)
	seq := r.seq.Add(1)
	msg := actor.NewMessage(seq, actorName, text, dispatch.NewHandle(cb)).WithAskChain(chain)
	if err := cell.mailbox.Enqueue(msg); err != nil {
		r.release()
		return 0, mapQueueError(err)
	}

	r.submitted.Add(1)
	return seq, nil
}

func (r *Runtime) onDispatched(resp dispatch.Response, err error) {
	var cbErr *dispatch.CallbackError
	switch {
	case errors.As(err, &cbErr):
		r.callbackFailures.Add(1)
	case errors.Is(err, dispatch.ErrAlreadyDispatched):
		return
	}

	switch {
	case errors.Is(resp.Err, actor.ErrCanceled):
		r.canceled.Add(1)
	case resp.Err != nil:
		r.failed.Add(1)
	default:
		r.completed.Add(1)
	}

	r.release()
}

// release marks one accepted message as dispatched. The last one out during
// shutdown closes the mailboxes so workers can exit.
func (r *Runtime) release() {
	if r.pending.Add(-1) == 0 && r.State() == StateShuttingDown {
		r.closeMailboxes()
	}
}

func (r *Runtime) closeMailboxes() {
	r.closeOnce.Do(func() {
		for _, cell := range r.actors {
			cell.mailbox.Close()
		}
	})
}

// Shutdown stops accepting external messages and waits for every accepted
// message to be dispatched. When ctx ends first, workers are canceled, queued
// messages are completed with actor.ErrCanceled and ctx.Err() is returned.
// A processor already running is not abandoned: Shutdown returns only after it
// does, so one that ignores ctx cancellation delays Shutdown past ctx.
// Shutdown is safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	switch r.State() {
	case StateUninitialized:
		r.closeMailboxes()
		r.setState(StateStopped)
		r.finish()
		r.mu.Unlock()
		return nil
	case StateRunning:
		r.setState(StateShuttingDown)
		r.log.Info("Runtime shutting down", "pending", r.pending.Load())
		if r.pending.Load() == 0 {
			r.closeMailboxes()
		}
		go r.awaitWorkers()
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
	}

	r.log.Warn("Drain deadline reached, canceling queued messages", "pending", r.pending.Load())
	r.closeMailboxes()
	r.mu.Lock()
	cancel := r.cancelWorkers
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-r.done
	return ctx.Err()
}

func (r *Runtime) awaitWorkers() {
	r.workers.Wait()

	r.mu.Lock()
	if r.cancelWorkers != nil {
		r.cancelWorkers()
	}
	r.setState(StateStopped)
	r.finish()
	r.mu.Unlock()

	r.log.Info("Runtime stopped",
		"submitted", r.submitted.Load(),
		"completed", r.completed.Load(),
		"failed", r.failed.Load(),
		"canceled", r.canceled.Load(),
	)
}

// finish must be called with mu held.
func (r *Runtime) finish() {
	close(r.done)
	if r.ownsEvents {
		r.events.Close()
	}
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Done is closed once the runtime reaches StateStopped.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// Events returns the bus that runtime events are published on.
func (r *Runtime) Events() *bus.Bus {
	return r.events
}

// DefaultActor names the actor SendMessage targets.
func (r *Runtime) DefaultActor() string {
	return r.defaultActor
}

// Actors lists registered actor names in sorted order.
func (r *Runtime) Actors() []string {
	return slices.Clone(r.names)
}

// HasActor reports whether name is registered.
func (r *Runtime) HasActor(name string) bool {
	_, ok := r.actors[name]
	return ok
}

func (r *Runtime) setState(next State) {
	prev := State(r.state.Swap(int32(next)))
	if prev == next {
		return
	}

	r.events.PublishEvent(context.Background(), bus.Event{
		Type: bus.EventStateChanged,
		Payload: map[string]string{
			"from": prev.String(),
			"to":   next.String(),
		},
	})
}
