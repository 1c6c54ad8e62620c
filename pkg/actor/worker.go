package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"actorbridge/pkg/bus"
	"actorbridge/pkg/dispatch"
	"actorbridge/pkg/queue"
)

// WorkerConfig wires one worker goroutine to an actor mailbox.
type WorkerConfig struct {
	Actor      string
	ID         int
	Mailbox    *queue.Queue[Message]
	Processor  Processor
	Dispatcher *dispatch.Dispatcher
	Events     *bus.Bus
	Log        *slog.Logger

	// OnDispatched is called after every dispatch attempt with the response
	// and the dispatcher's result.
	OnDispatched func(resp dispatch.Response, err error)
}

// Worker processes messages from a mailbox one at a time.
type Worker struct {
	cfg WorkerConfig
	log *slog.Logger
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Mailbox == nil {
		return nil, errors.New("mailbox is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.New(cfg.Log, cfg.Events)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg: cfg,
		log: log.With("component", "actor.worker", "actor", cfg.Actor, "worker", cfg.ID),
	}, nil
}

// Run consumes the mailbox until it is closed and drained.
//
// When ctx is canceled the worker stops processing and completes every
// message still in the mailbox with ErrCanceled. The mailbox must already be
// closed at that point, otherwise later submissions stay queued.
func (w *Worker) Run(ctx context.Context) {
	w.log.Debug("Worker started")

	for ctx.Err() == nil {
		msg, ok := w.cfg.Mailbox.Dequeue(ctx)
		if !ok {
			break
		}
		w.handle(ctx, msg)
	}

	if ctx.Err() != nil {
		canceled := w.cancelRemaining(ctx)
		if canceled > 0 {
			w.log.Warn("Canceled queued messages on shutdown", "count", canceled)
		}
	}

	w.log.Debug("Worker stopped")
}

func (w *Worker) handle(ctx context.Context, msg Message) {
	// Deliveries and events must still go out while shutdown is canceling.
	deliverCtx := context.WithoutCancel(ctx)

	w.cfg.Events.PublishEvent(deliverCtx, bus.Event{
		Type:  bus.EventMessageReceived,
		Actor: w.cfg.Actor,
		Seq:   msg.Seq,
		Payload: map[string]string{
			"message_length": strconv.Itoa(len(msg.Text)),
		},
	})

	text, err := w.process(ctx, msg)

	resp := dispatch.Response{Seq: msg.Seq, Actor: w.cfg.Actor, Text: text}
	if err != nil {
		resp = dispatch.ErrorResponse(msg.Seq, w.cfg.Actor, &ProcessingError{Seq: msg.Seq, Actor: w.cfg.Actor, Err: err})
		w.log.Debug("Message processing failed", "seq", msg.Seq, "error", err)
	}

	w.deliver(deliverCtx, resp, msg.handle)
}

func (w *Worker) process(ctx context.Context, msg Message) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Processor panicked", "seq", msg.Seq, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()

	return w.cfg.Processor.Process(processContext(ctx, msg, w.cfg.Actor), msg)
}

func (w *Worker) deliver(ctx context.Context, resp dispatch.Response, handle *dispatch.Handle) {
	err := w.cfg.Dispatcher.Dispatch(ctx, resp, handle)
	if err != nil && !errors.Is(err, dispatch.ErrAlreadyDispatched) {
		w.log.Warn("Callback delivery failed", "seq", resp.Seq, "error", err)
	}

	if w.cfg.OnDispatched != nil {
		w.cfg.OnDispatched(resp, err)
	}
}

func (w *Worker) cancelRemaining(ctx context.Context) int {
	deliverCtx := context.WithoutCancel(ctx)

	count := 0
	for {
		msg, ok := w.cfg.Mailbox.TryDequeue()
		if !ok {
			return count
		}
		w.deliver(deliverCtx, dispatch.ErrorResponse(msg.Seq, w.cfg.Actor, ErrCanceled), msg.handle)
		count++
	}
}
