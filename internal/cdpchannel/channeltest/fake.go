// Package channeltest provides an in-memory Channel for collector tests.
package channeltest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel"
)

// Fake is an in-memory cdpchannel.Channel. Command results and evaluation
// results are stubbed per method / expression fragment; events are injected
// with Emit.
type Fake struct {
	mu       sync.Mutex
	sent     []string
	results  map[string]string // method -> result JSON
	sendErr  map[string]error  // method -> forced error
	evals    map[string]string // expression fragment -> value JSON
	evalErr  error
	handlers map[string][]handler
	seq      int
	closed   bool
}

type handler struct {
	id int
	fn cdpchannel.HandlerFunc
}

func New() *Fake {
	return &Fake{
		results:  make(map[string]string),
		sendErr:  make(map[string]error),
		evals:    make(map[string]string),
		handlers: make(map[string][]handler),
	}
}

// StubResult sets the JSON result returned for a command method.
func (f *Fake) StubResult(method, resultJSON string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = resultJSON
}

// FailCommand makes Send return err for the given method.
func (f *Fake) FailCommand(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr[method] = err
}

// StubEval sets the JSON value returned for any expression containing
// fragment.
func (f *Fake) StubEval(fragment, valueJSON string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals[fragment] = valueJSON
}

// FailEval makes every Evaluate call return err.
func (f *Fake) FailEval(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalErr = err
}

// Sent returns the command methods sent so far, in order.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// HandlerCount reports how many handlers are subscribed for a method.
func (f *Fake) HandlerCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[method])
}

// Emit dispatches an event to all handlers subscribed to method.
func (f *Fake) Emit(method, paramsJSON string) {
	f.mu.Lock()
	handlers := append([]handler(nil), f.handlers[method]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h.fn(json.RawMessage(paramsJSON))
	}
}

func (f *Fake) Send(_ context.Context, method string, _, out any) error {
	f.mu.Lock()
	f.sent = append(f.sent, method)
	err := f.sendErr[method]
	result, ok := f.results[method]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if out != nil && ok {
		if err := json.Unmarshal([]byte(result), out); err != nil {
			return fmt.Errorf("channeltest: bad stub for %s: %w", method, err)
		}
	}
	return nil
}

func (f *Fake) Subscribe(method string, fn cdpchannel.HandlerFunc) func() {
	f.mu.Lock()
	f.seq++
	id := f.seq
	f.handlers[method] = append(f.handlers[method], handler{id: id, fn: fn})
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		handlers := f.handlers[method]
		for i, h := range handlers {
			if h.id == id {
				f.handlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (f *Fake) Evaluate(_ context.Context, expression string, out any) error {
	f.mu.Lock()
	err := f.evalErr
	// Longest matching fragment wins, so overlapping stubs stay
	// deterministic.
	var value, best string
	var ok bool
	for fragment, v := range f.evals {
		if strings.Contains(expression, fragment) && len(fragment) > len(best) {
			value, best, ok = v, fragment, true
		}
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("channeltest: no eval stub matches %q", firstLine(expression))
	}
	if out != nil {
		if err := json.Unmarshal([]byte(value), out); err != nil {
			return fmt.Errorf("channeltest: bad eval stub: %w", err)
		}
	}
	return nil
}

func (f *Fake) CaptureScreenshot(context.Context, string, int) ([]byte, error) {
	return []byte("fake-image"), nil
}

// Close marks the fake closed. Safe to call more than once.
func (f *Fake) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
