// Package driver defines the continuation primitives the bridge
// consumes and implements them over the Chrome DevTools Protocol.
package driver

import (
	"context"

	"cdpintercept/internal/rewrite"
	"cdpintercept/pkg/domain"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// PausedEvent is one intercepted request or response delivered by the
// driver, converted to the neutral traffic model.
type PausedEvent struct {
	ID      string
	Target  domain.TargetID
	Stage   rulespec.Stage
	Request *traffic.Request
	// Response carries status and headers at the response stage. The
	// body is fetched lazily through ResponseBody.
	Response *traffic.Response
}

// Driver is the seam between the bridge and the browser-automation
// engine. Each paused exchange must be resumed through exactly one of
// ContinueRequest, ContinueResponse, Abort or Fulfill.
type Driver interface {
	// Events delivers paused exchanges. The channel is closed when the
	// underlying session terminates; Err then reports why.
	Events() <-chan PausedEvent

	ContinueRequest(ctx context.Context, id string, mut *rewrite.RequestMutation) error
	ContinueResponse(ctx context.Context, id string, mut *rewrite.ResponseMutation) error
	Abort(ctx context.Context, id string) error
	Fulfill(ctx context.Context, id string, res *traffic.Response) error

	// ResponseBody fetches the paused response's body.
	ResponseBody(ctx context.Context, id string) ([]byte, error)

	// Err reports the terminal stream error, if any.
	Err() error
}
