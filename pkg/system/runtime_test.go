package system

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"actorbridge/pkg/actor"
	"actorbridge/pkg/bus"
	"actorbridge/pkg/config"
	"actorbridge/pkg/dispatch"
	"actorbridge/pkg/logger"
	"actorbridge/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type collector struct {
	mu        sync.Mutex
	responses []dispatch.Response
	wg        sync.WaitGroup
}

func newCollector(want int) *collector {
	c := &collector{}
	c.wg.Add(want)
	return c
}

func (c *collector) callback() dispatch.Callback {
	return dispatch.CallbackFunc(func(resp dispatch.Response) {
		c.mu.Lock()
		c.responses = append(c.responses, resp)
		c.mu.Unlock()
		c.wg.Done()
	})
}

func (c *collector) wait(t *testing.T, timeout time.Duration) []dispatch.Response {
	t.Helper()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callbacks")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dispatch.Response(nil), c.responses...)
}

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()

	rt, err := New(append([]Option{WithLogger(logger.Discard())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt
}

func startRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()

	rt := newRuntime(t, opts...)
	require.NoError(t, rt.Init())
	return rt
}

func shutdown(t *testing.T, rt *Runtime) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))
}

func TestNewRegistersDefaultEchoActor(t *testing.T) {
	rt := newRuntime(t)

	assert.Equal(t, StateUninitialized, rt.State())
	assert.Equal(t, config.DefaultActorName, rt.DefaultActor())
	assert.Equal(t, []string{config.DefaultActorName}, rt.Actors())
}

func TestNewRejectsInvalidActors(t *testing.T) {
	_, err := New(WithActor("wallet", actor.Echo()), WithActor("wallet", actor.Echo()))
	require.ErrorIs(t, err, ErrDuplicateActor)

	_, err = New(WithActor("account", actor.Echo()))
	require.ErrorIs(t, err, ErrUnknownActor)

	_, err = New(WithActor("", actor.Echo()))
	require.Error(t, err)

	_, err = New(WithActor("wallet", nil))
	require.Error(t, err)
}

func TestSendBeforeInitFails(t *testing.T) {
	rt := newRuntime(t)

	var called atomic.Bool
	_, err := rt.SendMessage("hello", dispatch.CallbackFunc(func(dispatch.Response) {
		called.Store(true)
	}))

	require.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, called.Load())
	assert.Zero(t, rt.Stats().Submitted)
	assert.Zero(t, rt.Stats().Actors[config.DefaultActorName].QueueDepth)
}

func TestSendValidatesArguments(t *testing.T) {
	rt := startRuntime(t)

	_, err := rt.SendMessage("hello", nil)
	require.ErrorIs(t, err, ErrNilCallback)

	_, err = rt.SendTo("nobody", "hello", dispatch.CallbackFunc(func(dispatch.Response) {}))
	require.ErrorIs(t, err, ErrUnknownActor)
}

func TestHelloRoundTrip(t *testing.T) {
	rt := startRuntime(t)
	c := newCollector(1)

	seq, err := rt.SendMessage("hello", c.callback())
	require.NoError(t, err)

	responses := c.wait(t, 2*time.Second)
	require.Len(t, responses, 1)
	assert.Equal(t, seq, responses[0].Seq)
	assert.NoError(t, responses[0].Err)
	assert.Equal(t, "echo: hello", responses[0].Text)
}

func TestInitIsIdempotentWhileRunning(t *testing.T) {
	rt := startRuntime(t)

	require.NoError(t, rt.Init())
	assert.Equal(t, StateRunning, rt.State())
}

func TestEveryMessageGetsItsOwnCallback(t *testing.T) {
	const n = 1000

	rt := startRuntime(t, WithWorkers(4))
	c := newCollector(n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rt.SendMessage("msg-"+strconv.Itoa(i), c.callback())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	responses := c.wait(t, 10*time.Second)
	require.Len(t, responses, n)

	seen := make(map[string]struct{}, n)
	seqs := make(map[uint64]struct{}, n)
	for _, resp := range responses {
		require.NoError(t, resp.Err)
		seen[resp.Text] = struct{}{}
		seqs[resp.Seq] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Len(t, seqs, n)
}

func TestResponsesMatchTheirRequests(t *testing.T) {
	rt := startRuntime(t, WithWorkers(3))

	var wg sync.WaitGroup
	for i := range 200 {
		text := "payload-" + strconv.Itoa(i)
		wg.Add(1)
		_, err := rt.SendMessage(text, dispatch.CallbackFunc(func(resp dispatch.Response) {
			defer wg.Done()
			assert.Equal(t, "echo: "+text, resp.Text)
		}))
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestSingleWorkerPreservesOrder(t *testing.T) {
	const n = 500

	rt := startRuntime(t)
	c := newCollector(n)

	for i := range n {
		_, err := rt.SendMessage(strconv.Itoa(i), c.callback())
		require.NoError(t, err)
	}

	responses := c.wait(t, 5*time.Second)
	for i, resp := range responses {
		require.Equal(t, "echo: "+strconv.Itoa(i), resp.Text)
	}
}

func TestSendAfterShutdownFails(t *testing.T) {
	rt := startRuntime(t)
	shutdown(t, rt)

	var called atomic.Bool
	_, err := rt.SendMessage("late", dispatch.CallbackFunc(func(dispatch.Response) {
		called.Store(true)
	}))

	require.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, err, queue.ErrClosed)
	assert.False(t, called.Load())
	assert.Equal(t, StateStopped, rt.State())
}

func TestSendDuringShutdownFails(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	rt := startRuntime(t, WithActor("wallet", actor.ProcessorFunc(func(context.Context, actor.Message) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "done", nil
	})))

	c := newCollector(1)
	_, err := rt.SendMessage("first", c.callback())
	require.NoError(t, err)
	<-started

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- rt.Shutdown(context.Background())
	}()

	require.Eventually(t, func() bool { return rt.State() == StateShuttingDown }, 2*time.Second, 5*time.Millisecond)

	_, err = rt.SendMessage("second", dispatch.CallbackFunc(func(dispatch.Response) {
		t.Error("callback fired for rejected message")
	}))
	require.ErrorIs(t, err, ErrQueueClosed)

	close(release)
	require.NoError(t, <-shutdownErr)

	responses := c.wait(t, 2*time.Second)
	assert.Equal(t, "done", responses[0].Text)
}

func TestShutdownTwice(t *testing.T) {
	rt := startRuntime(t)

	var calls atomic.Int32
	for range 10 {
		_, err := rt.SendMessage("x", dispatch.CallbackFunc(func(dispatch.Response) {
			calls.Add(1)
		}))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rt.Shutdown(context.Background()))
		}()
	}
	wg.Wait()
	shutdown(t, rt)

	assert.Equal(t, int32(10), calls.Load())
	assert.Equal(t, StateStopped, rt.State())
	select {
	case <-rt.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestShutdownUninitializedStops(t *testing.T) {
	rt := newRuntime(t)

	shutdown(t, rt)
	assert.Equal(t, StateStopped, rt.State())

	require.ErrorIs(t, rt.Init(), ErrStopped)
	_, err := rt.SendMessage("x", dispatch.CallbackFunc(func(dispatch.Response) {}))
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestInitAfterShutdownFails(t *testing.T) {
	rt := startRuntime(t)
	shutdown(t, rt)

	require.ErrorIs(t, rt.Init(), ErrStopped)
}

func TestShutdownDrainsQueuedMessages(t *testing.T) {
	const n = 200

	rt := startRuntime(t)
	c := newCollector(n)
	for i := range n {
		_, err := rt.SendMessage(strconv.Itoa(i), c.callback())
		require.NoError(t, err)
	}

	shutdown(t, rt)

	responses := c.wait(t, time.Second)
	require.Len(t, responses, n)
	for _, resp := range responses {
		assert.NoError(t, resp.Err)
	}

	stats := rt.Stats()
	assert.Equal(t, uint64(n), stats.Submitted)
	assert.Equal(t, uint64(n), stats.Completed)
	assert.Zero(t, stats.Pending)
}

func TestShutdownDeadlineCancelsQueuedMessages(t *testing.T) {
	const n = 5

	started := make(chan struct{})
	var once sync.Once
	rt := startRuntime(t, WithActor("wallet", actor.ProcessorFunc(func(ctx context.Context, _ actor.Message) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	})))

	c := newCollector(n)
	for i := range n {
		_, err := rt.SendMessage(strconv.Itoa(i), c.callback())
		require.NoError(t, err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rt.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateStopped, rt.State())

	responses := c.wait(t, time.Second)
	require.Len(t, responses, n)

	canceled := 0
	for _, resp := range responses {
		require.Error(t, resp.Err)
		if errors.Is(resp.Err, actor.ErrCanceled) {
			canceled++
		}
	}
	assert.Equal(t, n-1, canceled)

	stats := rt.Stats()
	assert.Equal(t, uint64(n-1), stats.Canceled)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestShutdownWaitsForProcessorIgnoringCancellation(t *testing.T) {
	const hold = 300 * time.Millisecond

	started := make(chan struct{})
	rt := startRuntime(t, WithActor("wallet", actor.ProcessorFunc(func(context.Context, actor.Message) (string, error) {
		close(started)
		time.Sleep(hold)
		return "late", nil
	})))

	c := newCollector(1)
	_, err := rt.SendMessage("slow", c.callback())
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	begin := time.Now()
	err = rt.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(begin), hold/2)
	assert.Equal(t, StateStopped, rt.State())

	resp := c.wait(t, time.Second)[0]
	require.NoError(t, resp.Err)
	assert.Equal(t, "late", resp.Text)
}

func TestBoundedMailboxReportsFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	rt := startRuntime(t,
		WithQueueCapacity(1),
		WithActor("wallet", actor.ProcessorFunc(func(context.Context, actor.Message) (string, error) {
			once.Do(func() { close(started) })
			<-release
			return "ok", nil
		})),
	)

	c := newCollector(2)
	_, err := rt.SendMessage("in flight", c.callback())
	require.NoError(t, err)
	<-started

	_, err = rt.SendMessage("queued", c.callback())
	require.NoError(t, err)

	_, err = rt.SendMessage("overflow", dispatch.CallbackFunc(func(dispatch.Response) {
		t.Error("callback fired for rejected message")
	}))
	require.ErrorIs(t, err, ErrQueueFull)

	close(release)
	c.wait(t, 2*time.Second)
}

func TestProcessorFailureIsDeliveredAsEnvelope(t *testing.T) {
	rt := startRuntime(t)
	c := newCollector(1)

	_, err := rt.SendMessage("   ", c.callback())
	require.NoError(t, err)

	resp := c.wait(t, 2*time.Second)[0]
	require.ErrorIs(t, resp.Err, actor.ErrEmptyMessage)
	assert.Equal(t, "error", gjson.Get(resp.Text, "type").String())

	var procErr *actor.ProcessingError
	require.ErrorAs(t, resp.Err, &procErr)
	assert.Equal(t, resp.Seq, procErr.Seq)
}

func TestPanickingCallbackDoesNotStopActor(t *testing.T) {
	rt := startRuntime(t)

	_, err := rt.SendMessage("boom", dispatch.CallbackFunc(func(dispatch.Response) {
		panic("callback exploded")
	}))
	require.NoError(t, err)

	c := newCollector(1)
	_, err = rt.SendMessage("after", c.callback())
	require.NoError(t, err)

	assert.Equal(t, "echo: after", c.wait(t, 2*time.Second)[0].Text)
	shutdown(t, rt)
	assert.Equal(t, uint64(1), rt.Stats().CallbackFailures)
}

func TestAskAcrossActors(t *testing.T) {
	rt := startRuntime(t,
		WithDefaultActor("account"),
		WithActorFunc("account", func(r *Runtime) actor.Processor { return actor.Delegate(r, "stronghold") }),
		WithActor("stronghold", actor.Answer("response")),
	)

	c := newCollector(1)
	_, err := rt.SendMessage("message from account", c.callback())
	require.NoError(t, err)

	resp := c.wait(t, 2*time.Second)[0]
	require.NoError(t, resp.Err)
	assert.Equal(t, "stronghold", gjson.Get(resp.Text, "actor").String())
	assert.Equal(t, "response", gjson.Get(resp.Text, "response").String())
}

func TestAskFromOutsideAnActor(t *testing.T) {
	rt := startRuntime(t)

	answer, err := rt.Ask(context.Background(), "wallet", "ping")
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", answer)

	_, err = rt.Ask(context.Background(), "wallet", "")
	require.ErrorIs(t, err, actor.ErrEmptyMessage)
}

func TestSelfAskIsRejected(t *testing.T) {
	rt := startRuntime(t, WithActorFunc("wallet", func(r *Runtime) actor.Processor {
		return actor.ProcessorFunc(func(ctx context.Context, msg actor.Message) (string, error) {
			return r.Ask(ctx, "wallet", msg.Text)
		})
	}))

	c := newCollector(1)
	_, err := rt.SendMessage("loop", c.callback())
	require.NoError(t, err)

	resp := c.wait(t, 2*time.Second)[0]
	require.ErrorIs(t, resp.Err, ErrSelfAsk)
}

func TestAskLoopBetweenActorsIsRejected(t *testing.T) {
	rt := startRuntime(t,
		WithDefaultActor("a"),
		WithActorFunc("a", func(r *Runtime) actor.Processor { return actor.Delegate(r, "b") }),
		WithActorFunc("b", func(r *Runtime) actor.Processor { return actor.Delegate(r, "a") }),
	)

	for range 2 {
		c := newCollector(1)
		_, err := rt.SendMessage("hi", c.callback())
		require.NoError(t, err)

		resp := c.wait(t, 2*time.Second)[0]
		require.ErrorIs(t, resp.Err, ErrSelfAsk)
		assert.Contains(t, resp.Err.Error(), "a -> b -> a")
	}
}

func TestAskChainAllowsRevisitingSiblings(t *testing.T) {
	rt := startRuntime(t,
		WithDefaultActor("account"),
		WithActorFunc("account", func(r *Runtime) actor.Processor {
			return actor.ProcessorFunc(func(ctx context.Context, msg actor.Message) (string, error) {
				first, err := r.Ask(ctx, "stronghold", msg.Text)
				if err != nil {
					return "", err
				}
				second, err := r.Ask(ctx, "stronghold", msg.Text)
				return first + "," + second, err
			})
		}),
		WithActor("stronghold", actor.Answer("ok")),
	)

	answer, err := rt.Ask(context.Background(), "account", "twice")
	require.NoError(t, err)
	assert.Equal(t, "ok,ok", answer)
}

func TestShutdownDrainsDelegationChains(t *testing.T) {
	const n = 100

	rt := startRuntime(t,
		WithDefaultActor("account"),
		WithActorFunc("account", func(r *Runtime) actor.Processor { return actor.Delegate(r, "stronghold") }),
		WithActor("stronghold", actor.Answer("response")),
	)

	c := newCollector(n)
	for i := range n {
		_, err := rt.SendMessage(strconv.Itoa(i), c.callback())
		require.NoError(t, err)
	}
	shutdown(t, rt)

	for _, resp := range c.wait(t, time.Second) {
		require.NoError(t, resp.Err)
	}
	assert.Equal(t, uint64(2*n), rt.Stats().Completed)
}

func TestNewFromConfigBuildsActors(t *testing.T) {
	rt, err := NewFromConfig(config.RuntimeConfig{
		Workers:      1,
		DefaultActor: "account",
		Actors: map[string]config.ActorConfig{
			"account":    {Kind: "router", Routes: map[string]string{"sign": "stronghold"}},
			"stronghold": {Kind: "answer", Text: "signed"},
		},
	}, WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, rt.Init())
	defer shutdown(t, rt)

	answer, err := rt.Ask(context.Background(), "account", `{"cmd":"sign","data":"abc"}`)
	require.NoError(t, err)
	assert.Equal(t, "signed", gjson.Get(answer, "response").String())

	answer, err = rt.Ask(context.Background(), "account", "plain text")
	require.NoError(t, err)
	assert.Equal(t, "echo: plain text", answer)

	_, err = rt.Ask(context.Background(), "account", `{"cmd":"transfer"}`)
	require.ErrorIs(t, err, actor.ErrUnknownCommand)
}

func TestNewFromConfigRejectsUnknownTarget(t *testing.T) {
	_, err := NewFromConfig(config.RuntimeConfig{
		DefaultActor: "account",
		Actors: map[string]config.ActorConfig{
			"account": {Kind: "delegate", Target: "stronghold"},
		},
	})
	require.ErrorIs(t, err, ErrUnknownActor)
}

func TestNewFromConfigRejectsAskCycles(t *testing.T) {
	_, err := NewFromConfig(config.RuntimeConfig{
		DefaultActor: "a",
		Actors: map[string]config.ActorConfig{
			"a": {Kind: "delegate", Target: "b"},
			"b": {Kind: "delegate", Target: "a"},
		},
	})
	require.ErrorIs(t, err, ErrAskCycle)
	assert.Contains(t, err.Error(), "a -> b -> a")

	_, err = NewFromConfig(config.RuntimeConfig{
		DefaultActor: "account",
		Actors: map[string]config.ActorConfig{
			"account": {Kind: "router", Routes: map[string]string{"again": "account"}},
		},
	})
	require.ErrorIs(t, err, ErrAskCycle)
}

func TestNewFromConfigAcceptsSharedTargets(t *testing.T) {
	rt, err := NewFromConfig(config.RuntimeConfig{
		DefaultActor: "account",
		Actors: map[string]config.ActorConfig{
			"account":    {Kind: "router", Routes: map[string]string{"sign": "stronghold", "audit": "ledger"}},
			"ledger":     {Kind: "delegate", Target: "stronghold"},
			"stronghold": {Kind: "answer", Text: "signed"},
		},
	}, WithLogger(logger.Discard()))
	require.NoError(t, err)
	assert.Equal(t, []string{"account", "ledger", "stronghold"}, rt.Actors())
}

func TestNewFromConfigTreatsEmptyKindAsEcho(t *testing.T) {
	rt, err := NewFromConfig(config.RuntimeConfig{
		DefaultActor: "wallet",
		Actors:       map[string]config.ActorConfig{"wallet": {}},
	}, WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, rt.Init())
	defer shutdown(t, rt)

	answer, err := rt.Ask(context.Background(), "wallet", "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", answer)
}

func TestNewFromConfigDefaultsToEchoWallet(t *testing.T) {
	rt, err := NewFromConfig(config.Default().Runtime, WithLogger(logger.Discard()))
	require.NoError(t, err)
	assert.Equal(t, []string{config.DefaultActorName}, rt.Actors())
}

func TestStateChangesArePublished(t *testing.T) {
	events := bus.New()
	defer events.Close()

	ch, unsubscribe := events.SubscribeEvents(context.Background(), 8, bus.EventStateChanged)
	defer unsubscribe()

	rt := startRuntime(t, WithEventBus(events))
	shutdown(t, rt)

	var transitions []string
	for range 3 {
		select {
		case event := <-ch:
			transitions = append(transitions, fmt.Sprintf("%s>%s", event.Payload["from"], event.Payload["to"]))
		case <-time.After(time.Second):
			t.Fatalf("missing state event, got %v", transitions)
		}
	}

	assert.Equal(t, []string{
		"uninitialized>running",
		"running>shutting_down",
		"shutting_down>stopped",
	}, transitions)
	assert.False(t, events.Closed(), "external bus must stay open")
}

func TestOwnedEventBusClosesOnStop(t *testing.T) {
	rt := startRuntime(t)
	shutdown(t, rt)

	assert.True(t, rt.Events().Closed())
}

func TestHundredThousandMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	const n = 100_000

	rt := startRuntime(t)
	var delivered atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)

	cb := dispatch.CallbackFunc(func(resp dispatch.Response) {
		if resp.Err == nil && strings.HasPrefix(resp.Text, "echo: ") {
			delivered.Add(1)
		}
		wg.Done()
	})

	for i := range n {
		_, err := rt.SendMessage(strconv.Itoa(i), cb)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))

	wg.Wait()
	assert.Equal(t, int64(n), delivered.Load())
	assert.Equal(t, uint64(n), rt.Stats().Completed)
}
