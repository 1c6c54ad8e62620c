package system

import (
	"errors"
	"fmt"

	"actorbridge/pkg/queue"
)

var (
	// ErrNotInitialized is returned by sends before Init.
	ErrNotInitialized = errors.New("runtime not initialized; call Init before sending messages")
	// ErrQueueClosed is returned by sends once shutdown has begun.
	ErrQueueClosed = fmt.Errorf("runtime is shutting down: %w", queue.ErrClosed)
	// ErrQueueFull is returned when a bounded actor mailbox is at capacity.
	ErrQueueFull = fmt.Errorf("actor mailbox is full: %w", queue.ErrFull)
	// ErrStopped is returned by Init after Shutdown.
	ErrStopped = errors.New("runtime stopped")
	// ErrSelfAsk is returned by Ask when the target is already waiting
	// further up the ask chain.
	ErrSelfAsk = errors.New("actor cannot ask an actor waiting on it")
	// ErrAskCycle is returned by NewFromConfig for actors that delegate in a
	// loop.
	ErrAskCycle = errors.New("actor targets form a cycle")

	ErrUnknownActor   = errors.New("unknown actor")
	ErrNilCallback    = errors.New("callback is required")
	ErrDuplicateActor = errors.New("actor already registered")
)

func mapQueueError(err error) error {
	switch {
	case errors.Is(err, queue.ErrClosed):
		return ErrQueueClosed
	case errors.Is(err, queue.ErrFull):
		return ErrQueueFull
	default:
		return err
	}
}
