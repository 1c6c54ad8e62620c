package dispatch

import (
	"errors"
	"sync/atomic"

	"github.com/tidwall/sjson"
)

// Response is the value handed to a completion callback.
//
// Text is always owned by the receiver. When Err is set, Text carries the
// error envelope built by ErrorText.
type Response struct {
	Seq   uint64
	Actor string
	Text  string
	Err   error
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool {
	return r.Err != nil
}

// Callback is a completion handler invoked once per submitted message.
type Callback interface {
	Complete(Response)
}

// CallbackFunc adapts a plain function to Callback.
type CallbackFunc func(Response)

func (f CallbackFunc) Complete(resp Response) {
	f(resp)
}

// Handle owns a callback until its single invocation.
type Handle struct {
	callback Callback
	claimed  atomic.Bool
}

func NewHandle(cb Callback) *Handle {
	return &Handle{callback: cb}
}

// Claim reports whether the caller won the right to invoke the callback.
// Every call after the first returns false.
func (h *Handle) Claim() bool {
	if h == nil || h.callback == nil {
		return false
	}
	return h.claimed.CompareAndSwap(false, true)
}

// Claimed reports whether the callback has already been taken.
func (h *Handle) Claimed() bool {
	return h != nil && h.claimed.Load()
}

// ErrorText renders err as the {"type":"error","payload":"..."} document
// returned to foreign callers.
func ErrorText(err error) string {
	if err == nil {
		err = errors.New("unknown error")
	}

	text, setErr := sjson.Set(`{"type":"error"}`, "payload", err.Error())
	if setErr != nil {
		return `{"type":"error","payload":"unrenderable error"}`
	}
	return text
}

// ErrorResponse builds the error-flavoured response for one message.
func ErrorResponse(seq uint64, actor string, err error) Response {
	return Response{
		Seq:   seq,
		Actor: actor,
		Text:  ErrorText(err),
		Err:   err,
	}
}
