package websocket

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Request is one inbound frame. Plain-text frames are treated as Text for
// the default actor.
type Request struct {
	ID    string `json:"id,omitempty"`
	Actor string `json:"actor,omitempty"`
	Text  string `json:"text"`
}

// Reply answers exactly one Request.
type Reply struct {
	ID    string `json:"id"`
	Seq   uint64 `json:"seq,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// ParseRequest decodes a client frame and assigns an id when the client did
// not send one.
func ParseRequest(frame string) Request {
	var req Request

	trimmed := strings.TrimSpace(frame)
	if gjson.Valid(trimmed) && gjson.Parse(trimmed).IsObject() {
		fields := gjson.GetMany(trimmed, "id", "actor", "text")
		req = Request{
			ID:    fields[0].String(),
			Actor: strings.TrimSpace(fields[1].String()),
			Text:  fields[2].String(),
		}
	} else {
		req.Text = frame
	}

	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	return req
}
