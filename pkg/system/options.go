package system

import (
	"log/slog"
	"strings"

	"actorbridge/pkg/actor"
	"actorbridge/pkg/bus"
)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	log           *slog.Logger
	events        *bus.Bus
	defaultActor  string
	workers       int
	queueCapacity int
	actors        []actorSpec
}

type actorSpec struct {
	name  string
	build func(*Runtime) actor.Processor
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithEventBus publishes runtime events on an externally owned bus. Without
// it the runtime creates a bus and closes it once stopped.
func WithEventBus(events *bus.Bus) Option {
	return func(o *options) {
		o.events = events
	}
}

func WithDefaultActor(name string) Option {
	return func(o *options) {
		o.defaultActor = strings.TrimSpace(name)
	}
}

// WithWorkers sets the worker count per actor. Values below one are ignored.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueCapacity bounds every actor mailbox. Zero means unbounded.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.queueCapacity = n
		}
	}
}

// WithActor registers a named actor backed by p.
func WithActor(name string, p actor.Processor) Option {
	return WithActorFunc(name, func(*Runtime) actor.Processor { return p })
}

// WithActorFunc registers a named actor whose processor needs the runtime,
// for example to Ask other actors.
func WithActorFunc(name string, build func(*Runtime) actor.Processor) Option {
	return func(o *options) {
		o.actors = append(o.actors, actorSpec{name: strings.TrimSpace(name), build: build})
	}
}
