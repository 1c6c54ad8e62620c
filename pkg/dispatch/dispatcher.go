package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"actorbridge/pkg/bus"
)

// ErrAlreadyDispatched is returned when a handle has been invoked before.
var ErrAlreadyDispatched = errors.New("callback already dispatched")

// CallbackError reports a callback that panicked during delivery.
type CallbackError struct {
	Seq   uint64
	Actor string
	Value any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback for %s#%d panicked: %v", e.Actor, e.Seq, e.Value)
}

// Dispatcher delivers responses to their callbacks on the calling worker
// goroutine and keeps callback failures away from the worker loop.
type Dispatcher struct {
	log    *slog.Logger
	events *bus.Bus
}

func New(log *slog.Logger, events *bus.Bus) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		log:    log.With("component", "dispatch"),
		events: events,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, resp Response, h *Handle) (err error) {
	if !h.Claim() {
		d.log.Warn("Dropping duplicate dispatch", "actor", resp.Actor, "seq", resp.Seq)
		return ErrAlreadyDispatched
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		cbErr := &CallbackError{Seq: resp.Seq, Actor: resp.Actor, Value: r}
		d.log.Error("Callback panicked", "actor", resp.Actor, "seq", resp.Seq, "error", cbErr, "stack", string(debug.Stack()))
		d.events.PublishEvent(ctx, bus.Event{
			Type:  bus.EventCallbackFailed,
			Actor: resp.Actor,
			Seq:   resp.Seq,
			Error: cbErr.Error(),
		})
		err = cbErr
	}()

	h.callback.Complete(resp)

	event := bus.Event{
		Type:    bus.EventMessageCompleted,
		Actor:   resp.Actor,
		Seq:     resp.Seq,
		Payload: map[string]string{"response_length": strconv.Itoa(len(resp.Text))},
	}
	if resp.Err != nil {
		event.Type = bus.EventMessageFailed
		event.Error = resp.Err.Error()
	}
	d.events.PublishEvent(ctx, event)

	return nil
}
