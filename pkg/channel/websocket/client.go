package websocket

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"
)

// Client is a minimal bridge client used by the send command.
type Client struct {
	ws *websocket.Conn
}

// Dial connects to a bridge endpoint such as ws://127.0.0.1:18790/ws.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	target, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}

	origin := &url.URL{Scheme: "http", Host: target.Host}
	if target.Scheme == "wss" {
		origin.Scheme = "https"
	}

	cfg, err := websocket.NewConfig(target.String(), origin.String())
	if err != nil {
		return nil, fmt.Errorf("configure websocket: %w", err)
	}

	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	return &Client{ws: ws}, nil
}

func (c *Client) Send(req Request) error {
	return websocket.JSON.Send(c.ws, req)
}

// SendText sends a raw frame. The bridge treats it as text for the default
// actor unless it is a JSON request object.
func (c *Client) SendText(text string) error {
	return websocket.Message.Send(c.ws, text)
}

// Receive blocks for the next reply. Replies arrive in completion order, which
// is only submission order for requests to the same single-worker actor.
func (c *Client) Receive() (Reply, error) {
	var reply Reply
	err := websocket.JSON.Receive(c.ws, &reply)
	return reply, err
}

// SetReadDeadline bounds the next Receive. A zero time clears it.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *Client) Close() error {
	return c.ws.Close()
}
