package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"actorbridge/pkg/channel"
	"actorbridge/pkg/config"
	"actorbridge/pkg/dispatch"

	"golang.org/x/net/websocket"
)

const (
	channelName = "websocket"
	readTimeout = 90 * time.Second

	defaultWriteTimeout = 10 * time.Second
	defaultReplyBuffer  = 64
)

// Bridge serves the WebSocket endpoint and submits every frame to the
// runtime. Callbacks only queue replies; each connection has one writer
// goroutine, so a peer that stops reading never holds up an actor worker.
type Bridge struct {
	path         string
	log          *slog.Logger
	writeTimeout time.Duration
	replyBuffer  int

	mu    sync.RWMutex
	sub   channel.Submitter
	conns map[*conn]struct{}
}

type conn struct {
	ws      *websocket.Conn
	log     *slog.Logger
	timeout time.Duration
	out     chan Reply

	pending   sync.WaitGroup
	closeOnce sync.Once
}

func NewBridge(cfg config.WebSocketConfig, log *slog.Logger) *Bridge {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = config.DefaultWebSocketPath
	}
	if log == nil {
		log = slog.Default()
	}

	return &Bridge{
		path:         path,
		log:          log.With("component", "channel.websocket"),
		writeTimeout: defaultWriteTimeout,
		replyBuffer:  defaultReplyBuffer,
		conns:        make(map[*conn]struct{}),
	}
}

func (b *Bridge) Name() string {
	return channelName
}

// Pattern is the gateway mux path the bridge is mounted on.
func (b *Bridge) Pattern() string {
	return b.path
}

// Run attaches the bridge to sub until ctx ends, then closes every open
// connection.
func (b *Bridge) Run(ctx context.Context, sub channel.Submitter) error {
	if sub == nil {
		return errors.New("submitter is required")
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	b.log.Info("WebSocket channel started", "path", b.path)
	<-ctx.Done()

	b.mu.Lock()
	b.sub = nil
	open := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		open = append(open, c)
	}
	b.mu.Unlock()

	for _, c := range open {
		c.close()
	}
	b.log.Info("WebSocket channel stopped", "closed_connections", len(open))
	return nil
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.submitter() == nil {
		http.Error(w, "websocket channel not running", http.StatusServiceUnavailable)
		return
	}

	websocket.Handler(b.serveConn).ServeHTTP(w, r)
}

func (b *Bridge) submitter() channel.Submitter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sub
}

func (b *Bridge) track(c *conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return false
	}
	b.conns[c] = struct{}{}
	return true
}

func (b *Bridge) untrack(c *conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, c)
}

func (b *Bridge) serveConn(ws *websocket.Conn) {
	log := b.log.With("remote", ws.Request().RemoteAddr)
	c := &conn{
		ws:      ws,
		log:     log,
		timeout: b.writeTimeout,
		out:     make(chan Reply, max(b.replyBuffer, 1)),
	}

	if !b.track(c) {
		_ = ws.Close()
		return
	}

	written := make(chan struct{})
	go c.writeLoop(written)
	defer func() {
		b.untrack(c)
		close(c.out)
		<-written
		c.close()
	}()

	log.Debug("Connection opened")

	for {
		var frame string
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("Connection read failed", "error", err)
			}
			break
		}

		b.submit(c, ParseRequest(frame))
	}

	// Replies for accepted frames still go out if the peer only half-closed.
	// Callbacks never block, so this ends once the runtime dispatches them.
	c.pending.Wait()
	log.Debug("Connection closed")
}

func (b *Bridge) submit(c *conn, req Request) {
	sub := b.submitter()
	if sub == nil {
		c.enqueue(Reply{ID: req.ID, Error: "websocket channel not running"})
		return
	}

	actorName := channel.ResolveActor(sub, req.Actor)

	c.pending.Add(1)
	seq, err := sub.SendTo(actorName, req.Text, dispatch.CallbackFunc(func(resp dispatch.Response) {
		defer c.pending.Done()

		reply := Reply{ID: req.ID, Seq: resp.Seq, Text: resp.Text}
		if resp.Err != nil {
			reply.Error = resp.Err.Error()
		}
		c.enqueue(reply)
	}))
	if err != nil {
		c.pending.Done()
		c.log.Debug("Submission rejected", "id", req.ID, "actor", actorName, "error", err)
		c.enqueue(Reply{ID: req.ID, Error: err.Error()})
		return
	}

	c.log.Debug("Submitted frame", "id", req.ID, "actor", actorName, "seq", seq)
}

// enqueue hands reply to the writer without blocking. A full buffer means
// the peer is not reading, and the connection is dropped.
func (c *conn) enqueue(reply Reply) {
	select {
	case c.out <- reply:
	default:
		c.log.Warn("Reply buffer full, closing slow connection", "id", reply.ID, "seq", reply.Seq)
		c.close()
	}
}

// writeLoop writes queued replies until out is closed. After the first failed
// write the rest are discarded.
func (c *conn) writeLoop(done chan<- struct{}) {
	defer close(done)

	broken := false
	for reply := range c.out {
		if broken {
			continue
		}

		_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
		if err := websocket.JSON.Send(c.ws, reply); err != nil {
			c.log.Debug("Failed to write reply", "id", reply.ID, "seq", reply.Seq, "error", err)
			broken = true
			c.close()
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
