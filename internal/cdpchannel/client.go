package cdpchannel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client is the production Channel: a minimal CDP client over the
// browser-level WebSocket. It skips chromedp's session initialisation
// (SetAutoAttach, SetDiscoverTargets, DOM.enable) so a recording perturbs
// the page as little as possible.
type Client struct {
	httpBase string // e.g. "http://127.0.0.1:9222"

	mu        sync.Mutex
	conn      net.Conn
	sessionID string
	seq       atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler struct {
	id int64
	fn HandlerFunc
}

// NewClient creates a Client for the browser's HTTP debugging endpoint.
func NewClient(httpBase string) *Client {
	return &Client{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// Connect dials the browser-level WebSocket endpoint.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	wsURL, err := c.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("cdpchannel: browser ws url: %w", err)
	}

	slog.Debug("cdpchannel connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("cdpchannel: dial: %w", err)
	}

	c.conn = conn
	c.pending = make(map[int64]chan json.RawMessage)
	go c.readLoop()
	return nil
}

// Attach creates a flat session on the given page target. All subsequent
// Send/Evaluate calls run inside that session.
func (c *Client) Attach(ctx context.Context, targetID string) error {
	params := struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	var result struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.sendBrowser(ctx, "Target.attachToTarget", params, &result); err != nil {
		return err
	}
	if result.SessionID == "" {
		return fmt.Errorf("cdpchannel: attach returned empty session id")
	}

	c.mu.Lock()
	c.sessionID = result.SessionID
	c.mu.Unlock()
	slog.Info("cdpchannel attached", "target_id", targetID)
	return nil
}

// Close detaches from the session and closes the WebSocket. Safe to call
// more than once.
func (c *Client) Close() {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && sessionID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		params := struct {
			SessionID string `json:"sessionId"`
		}{SessionID: sessionID}
		if err := c.sendBrowser(ctx, "Target.detachFromTarget", params, nil); err != nil {
			slog.Debug("cdpchannel detach failed", "error", err)
		}
		cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// Send issues a command on the attached session and unmarshals the inner
// result into out.
func (c *Client) Send(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	return c.sendFlat(ctx, sessionID, method, params, out)
}

// sendBrowser issues a command on the browser-level connection (no session).
func (c *Client) sendBrowser(ctx context.Context, method string, params, out any) error {
	return c.sendFlat(ctx, "", method, params, out)
}

func (c *Client) sendFlat(ctx context.Context, sessionID, method string, params, out any) error {
	id := c.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	raw, err := c.sendRaw(ctx, id, req)
	if err != nil {
		return err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("cdpchannel: unmarshal %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return &ProtocolError{Method: method, Message: envelope.Error.Message}
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("cdpchannel: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// sendRaw marshals an envelope, writes it, and waits for the response keyed
// by id.
func (c *Client) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("cdpchannel: not connected")
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("cdpchannel: marshal: %w", err)
	}

	c.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	c.mu.Unlock()
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("cdpchannel: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cdpchannel: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		c.deletePending(id)
		return nil, ctx.Err()
	}
}

// readLoop processes incoming messages: responses go to waiters, events go
// to subscribed handlers.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("cdpchannel read loop exit", "error", err)
			c.closeAllPending()
			return
		}

		var msg struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			c.dispatchEvent(msg.Method, msg.Params)
		}
	}
}

func (c *Client) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Subscribe registers fn for a protocol event method. The returned func
// removes the registration; calling it more than once is harmless.
func (c *Client) Subscribe(method string, fn HandlerFunc) func() {
	id := c.seq.Add(1)
	c.eventMu.Lock()
	c.eventHandlers[method] = append(c.eventHandlers[method], eventHandler{id: id, fn: fn})
	c.eventMu.Unlock()
	return func() {
		c.eventMu.Lock()
		defer c.eventMu.Unlock()
		handlers := c.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				c.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (c *Client) dispatchEvent(method string, params json.RawMessage) {
	c.eventMu.RLock()
	handlers := make([]eventHandler, len(c.eventHandlers[method]))
	copy(handlers, c.eventHandlers[method])
	c.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(params)
	}
}

// Evaluate runs a JavaScript expression in the page (awaiting promises) and
// unmarshals its by-value JSON result into out.
func (c *Client) Evaluate(ctx context.Context, expression string, out any) error {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: expression, ReturnByValue: true, AwaitPromise: true}

	var result struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := c.Send(ctx, "Runtime.evaluate", params, &result); err != nil {
		return err
	}
	if result.ExceptionDetails != nil {
		return fmt.Errorf("cdpchannel: eval exception: %s", result.ExceptionDetails.Text)
	}
	if out != nil && len(result.Result.Value) > 0 {
		if err := json.Unmarshal(result.Result.Value, out); err != nil {
			return fmt.Errorf("cdpchannel: unmarshal eval value: %w", err)
		}
	}
	return nil
}

// CaptureScreenshot captures a screenshot of the page via
// Page.captureScreenshot and returns the decoded image bytes.
func (c *Client) CaptureScreenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	params := struct {
		Format      string `json:"format"`
		Quality     int    `json:"quality,omitempty"`
		FromSurface bool   `json:"fromSurface"`
	}{Format: format, FromSurface: true}
	if format == "jpeg" && quality > 0 {
		params.Quality = quality
	}

	var result struct {
		Data string `json:"data"`
	}
	if err := c.Send(ctx, "Page.captureScreenshot", params, &result); err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(result.Data)
	if err != nil {
		return nil, fmt.Errorf("cdpchannel: decode screenshot: %w", err)
	}
	return img, nil
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (c *Client) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cdpchannel: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("cdpchannel: empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
