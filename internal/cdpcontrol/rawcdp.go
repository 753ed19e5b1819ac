package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// rawCDP is a minimal CDP client over a single browser-level websocket. It
// attaches flat sessions to page targets, evaluates chart scripts and routes
// Runtime.bindingCalled events back to the client. It avoids chromedp's
// session setup (auto-attach, target discovery, DOM.enable) because the
// chart page only needs Runtime and Page.
type rawCDP struct {
	httpBase string // e.g. "http://127.0.0.1:9222"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan cdpMessage

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// cdpMessage is one frame read from the websocket: a command response when
// ID is set, an event otherwise.
type cdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cdpRequest struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	SessionID string `json:"sessionId,omitempty"`
	Params    any    `json:"params,omitempty"`
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan cdpMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// connect dials the browser websocket advertised by /json/version.
func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.pendingMu.Lock()
	r.pending = make(map[int64]chan cdpMessage)
	r.pendingMu.Unlock()
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

func (r *rawCDP) connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// readLoop routes responses to their waiters and events to handlers until
// the connection fails.
func (r *rawCDP) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.failPending()
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			return
		}

		var msg cdpMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch {
		case msg.ID > 0:
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			delete(r.pending, msg.ID)
			r.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		case msg.Method != "":
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) failPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) forget(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// call sends method on sessionID (empty for the browser session) and waits
// for its result.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("rawcdp: not connected")
	}

	req := cdpRequest{ID: r.seq.Add(1), Method: method, SessionID: sessionID, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan cdpMessage, 1)
	r.pendingMu.Lock()
	r.pending[req.ID] = ch
	r.pendingMu.Unlock()

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.forget(req.ID)
		return nil, fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("rawcdp: %s: connection closed", method)
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("rawcdp: %s: %s", method, msg.Error.Message)
		}
		return msg.Result, nil
	case <-ctx.Done():
		r.forget(req.ID)
		return nil, ctx.Err()
	}
}

// attachToTarget opens a flat session on targetID.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID string) (string, error) {
	raw, err := r.call(ctx, "", "Target.attachToTarget", map[string]any{"targetId": targetID, "flatten": true})
	if err != nil {
		return "", err
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("rawcdp: unmarshal attach: %w", err)
	}
	return out.SessionID, nil
}

// detachFromTarget closes a session without closing the target.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	_, err := r.call(ctx, "", "Target.detachFromTarget", map[string]any{"sessionId": sessionID})
	return err
}

// evaluate runs js on the session, awaiting promises. Scripts return a JSON
// string, which is unwrapped here.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	raw, err := r.call(ctx, sessionID, "Runtime.evaluate", map[string]any{
		"expression":    js,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("rawcdp: unmarshal eval: %w", err)
	}
	if ex := out.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return "", fmt.Errorf("rawcdp: eval exception: %s", msg)
	}
	var s string
	if err := json.Unmarshal(out.Result.Value, &s); err != nil {
		return string(out.Result.Value), nil
	}
	return s, nil
}

// enableRuntime sends Runtime.enable so binding calls are reported.
func (r *rawCDP) enableRuntime(ctx context.Context, sessionID string) error {
	_, err := r.call(ctx, sessionID, "Runtime.enable", nil)
	return err
}

// addBinding exposes window[name](string) to the page. Each call arrives as
// a Runtime.bindingCalled event on the session.
func (r *rawCDP) addBinding(ctx context.Context, sessionID, name string) error {
	if _, err := r.call(ctx, sessionID, "Runtime.addBinding", map[string]any{"name": name}); err != nil {
		return fmt.Errorf("rawcdp: addBinding %s: %w", name, err)
	}
	return nil
}

// captureScreenshot returns the base64 image data of the page viewport.
func (r *rawCDP) captureScreenshot(ctx context.Context, sessionID, format string, quality int) (string, error) {
	params := map[string]any{"format": format, "fromSurface": true}
	if format == "jpeg" && quality > 0 {
		params["quality"] = quality
	}
	raw, err := r.call(ctx, sessionID, "Page.captureScreenshot", params)
	if err != nil {
		return "", fmt.Errorf("rawcdp: captureScreenshot: %w", err)
	}
	var out struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("rawcdp: unmarshal screenshot: %w", err)
	}
	return out.Data, nil
}

// registerEventHandler registers fn for a CDP event method such as
// "Runtime.bindingCalled". Handlers run on the read loop and must neither
// block nor issue CDP calls. The returned func unregisters.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.eventHandlers[method] = append(r.eventHandlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		hs := r.eventHandlers[method]
		for i, h := range hs {
			if h.id == id {
				r.eventHandlers[method] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	hs := append([]eventHandler(nil), r.eventHandlers[method]...)
	r.eventMu.RUnlock()
	for _, h := range hs {
		h.fn(sessionID, params)
	}
}

// listTargets reads the open targets from /json/list.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := r.getJSON(ctx, "/json/list", 10*time.Second, &entries); err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL})
	}
	return out, nil
}

func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := r.getJSON(ctx, "/json/version", 5*time.Second, &info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("rawcdp: empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}

func (r *rawCDP) getJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
