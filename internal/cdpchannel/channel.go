// Package cdpchannel implements the instrumentation channel used to drive a
// Chromium-family browser over the Chrome DevTools Protocol: a
// command/response primitive, event subscription by method name, and the
// page-handle operations (expression evaluation, screenshot capture).
package cdpchannel

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc receives the raw params payload of a protocol event. Handlers
// run on the channel's dispatch goroutine and must not block; buffer the
// payload and return.
type HandlerFunc func(params json.RawMessage)

// Channel is the protocol session the engine records through. The production
// implementation is Client; tests substitute in-memory fakes.
type Channel interface {
	// Send issues a named protocol command and unmarshals the result into
	// out (out may be nil when the result is irrelevant).
	Send(ctx context.Context, method string, params, out any) error

	// Subscribe registers fn for a protocol event method and returns an
	// unsubscribe func. Unsubscribing twice is harmless.
	Subscribe(method string, fn HandlerFunc) (unsubscribe func())

	// Evaluate runs a JavaScript expression in the page (awaiting promises)
	// and unmarshals its JSON value into out.
	Evaluate(ctx context.Context, expression string, out any) error

	// CaptureScreenshot returns the page screenshot as raw image bytes.
	CaptureScreenshot(ctx context.Context, format string, quality int) ([]byte, error)
}

// ProtocolError is returned when the browser rejects a protocol command.
type ProtocolError struct {
	Method  string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cdp: %s: %s", e.Method, e.Message)
}
