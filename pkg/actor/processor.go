package actor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Processor is the business logic run by an actor for each message.
type Processor interface {
	Process(ctx context.Context, msg Message) (string, error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, msg Message) (string, error)

func (f ProcessorFunc) Process(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

// Asker sends a request to a named actor and waits for its response.
type Asker interface {
	Ask(ctx context.Context, actorName string, text string) (string, error)
}

// Echo responds with the message text prefixed by "echo: ".
func Echo() Processor {
	return ProcessorFunc(func(_ context.Context, msg Message) (string, error) {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return "", ErrEmptyMessage
		}
		return "echo: " + text, nil
	})
}

// Answer responds with a fixed text regardless of input.
func Answer(text string) Processor {
	return ProcessorFunc(func(context.Context, Message) (string, error) {
		return text, nil
	})
}

// Delegate asks target with the incoming text and wraps the answer as
// {"actor":"<target>","response":"<answer>"}.
func Delegate(asker Asker, target string) Processor {
	return ProcessorFunc(func(ctx context.Context, msg Message) (string, error) {
		if asker == nil {
			return "", fmt.Errorf("delegate to %s: no asker configured", target)
		}

		answer, err := asker.Ask(ctx, target, msg.Text)
		if err != nil {
			return "", fmt.Errorf("ask %s: %w", target, err)
		}

		out, err := sjson.Set(`{}`, "actor", target)
		if err != nil {
			return "", err
		}
		return sjson.Set(out, "response", answer)
	})
}

// Router dispatches JSON commands of the form {"cmd":"name",...} to the
// processor registered for that name. Text that is not a JSON command goes to
// the fallback processor.
type Router struct {
	fallback Processor

	mu     sync.RWMutex
	routes map[string]Processor
}

func NewRouter(fallback Processor) *Router {
	return &Router{
		fallback: fallback,
		routes:   make(map[string]Processor),
	}
}

// Handle registers p for cmd, replacing any earlier registration.
func (r *Router) Handle(cmd string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[strings.TrimSpace(cmd)] = p
}

func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.routes))
	for cmd := range r.routes {
		out = append(out, cmd)
	}
	return out
}

func (r *Router) Process(ctx context.Context, msg Message) (string, error) {
	text := strings.TrimSpace(msg.Text)

	if gjson.Valid(text) {
		if cmd := gjson.Get(text, "cmd"); cmd.Exists() {
			r.mu.RLock()
			p, ok := r.routes[cmd.String()]
			r.mu.RUnlock()
			if !ok {
				return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.String())
			}
			return p.Process(ctx, msg)
		}
	}

	if r.fallback == nil {
		return "", fmt.Errorf("%w: message is not a routed command", ErrUnknownCommand)
	}
	return r.fallback.Process(ctx, msg)
}
