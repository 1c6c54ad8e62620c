package actor

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled completes messages still queued when shutdown gives up
	// waiting for the drain.
	ErrCanceled = errors.New("message canceled by shutdown")
	// ErrEmptyMessage is returned by processors that need a payload.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrUnknownCommand is returned by Router for unrouted commands.
	ErrUnknownCommand = errors.New("unknown command")
)

// ProcessingError wraps a failure raised while handling one message.
type ProcessingError struct {
	Seq   uint64
	Actor string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process %s#%d: %v", e.Actor, e.Seq, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
