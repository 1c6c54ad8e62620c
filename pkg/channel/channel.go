package channel

import (
	"context"
	"net/http"

	"actorbridge/pkg/dispatch"
)

// Submitter is the part of the runtime an adapter talks to.
type Submitter interface {
	SendTo(actorName, text string, cb dispatch.Callback) (uint64, error)
	DefaultActor() string
}

// Adapter bridges one external transport (for example Telegram) into the
// actor runtime. Run blocks until ctx ends or the transport fails.
type Adapter interface {
	Name() string
	Run(ctx context.Context, sub Submitter) error
}

// HTTPAdapter is an adapter that also serves requests on the gateway mux.
type HTTPAdapter interface {
	Adapter
	http.Handler
	Pattern() string
}

// ResolveActor picks the requested actor or falls back to the default one.
func ResolveActor(sub Submitter, requested string) string {
	if requested != "" {
		return requested
	}
	return sub.DefaultActor()
}
