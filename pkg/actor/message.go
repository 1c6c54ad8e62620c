package actor

import (
	"context"
	"slices"
	"time"

	"actorbridge/pkg/dispatch"

	"github.com/tidwall/gjson"
)

// Message is one queued submission. It is immutable once created.
type Message struct {
	Seq         uint64
	Actor       string
	Text        string
	SubmittedAt time.Time

	handle *dispatch.Handle
	askers []string
}

func NewMessage(seq uint64, actorName string, text string, handle *dispatch.Handle) Message {
	return Message{
		Seq:         seq,
		Actor:       actorName,
		Text:        text,
		SubmittedAt: time.Now().UTC(),
		handle:      handle,
	}
}

// WithAskChain records the actors that are blocked waiting on this message,
// outermost first.
func (m Message) WithAskChain(chain []string) Message {
	m.askers = slices.Clone(chain)
	return m
}

// AskChain returns the actors waiting on this message, outermost first.
func (m Message) AskChain() []string {
	return slices.Clone(m.askers)
}

// Handle returns the callback handle owned by the message.
func (m Message) Handle() *dispatch.Handle {
	return m.handle
}

// Field reads a value from a JSON message body. It returns an empty result
// for plain-text messages.
func (m Message) Field(path string) gjson.Result {
	if !gjson.Valid(m.Text) {
		return gjson.Result{}
	}
	return gjson.Get(m.Text, path)
}

type askChainKey struct{}

// WithActorName tags ctx with the actor currently processing a message. The
// name is appended to the ask chain ctx already carries.
func WithActorName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, askChainKey{}, append(slices.Clip(AskChain(ctx)), name))
}

// ActorName returns the actor processing the current message, if any.
func ActorName(ctx context.Context) (string, bool) {
	chain := AskChain(ctx)
	if len(chain) == 0 {
		return "", false
	}
	return chain[len(chain)-1], true
}

// AskChain returns the actors blocked on the current message, outermost
// first, ending with the actor processing it.
func AskChain(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	chain, _ := ctx.Value(askChainKey{}).([]string)
	return chain
}

// processContext rebuilds the ask chain msg was sent with and appends the
// processing actor.
func processContext(ctx context.Context, msg Message, actorName string) context.Context {
	chain := append(slices.Clip(msg.askers), actorName)
	return context.WithValue(ctx, askChainKey{}, chain)
}
