package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// bindingName is the page function scripts call to push events to Go.
const bindingName = "__pcEvent"

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"session with given id not found",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

type pageSession struct {
	info      PageInfo
	mu        sync.Mutex
	sessionID string
}

// Client drives the chart page in one browser tab over raw CDP.
type Client struct {
	cdpURL      string
	pageFilter  string
	evalTimeout time.Duration

	mu   sync.Mutex
	cdp  *rawCDP
	page *pageSession

	// evalMu serializes scripts against the page.
	evalMu sync.Mutex

	events *eventRouter
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// NewClient returns a client for the browser at cdpURL. The first page
// target whose URL contains pageFilter hosts the chart.
func NewClient(cdpURL, pageFilter string, evalTimeout time.Duration) *Client {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &Client{
		cdpURL:      cdpURL,
		pageFilter:  strings.ToLower(strings.TrimSpace(pageFilter)),
		evalTimeout: evalTimeout,
		events:      newEventRouter(eventQueueSize),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.events.start()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	cdp := newRawCDP(c.cdpURL)
	if err := cdp.connect(ctx); err != nil {
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	cdp.registerEventHandler("Runtime.bindingCalled", c.onBindingCalled)
	c.cdp = cdp

	if err := c.syncPageLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial page sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	found := c.page != nil
	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "page_found", found)
	return nil
}

// Close detaches from the page and stops event delivery.
func (c *Client) Close() error {
	c.mu.Lock()
	c.cleanupLocked()
	c.mu.Unlock()
	c.events.stop()
	return nil
}

func (c *Client) cleanupLocked() {
	if c.cdp != nil && c.page != nil {
		c.page.mu.Lock()
		if c.page.sessionID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := c.cdp.detachFromTarget(ctx, c.page.sessionID); err != nil {
				slog.Debug("cdpcontrol detach cleanup failed", "session_id", c.page.sessionID, "error", err)
			}
			cancel()
			c.page.sessionID = ""
		}
		c.page.mu.Unlock()
	}
	if c.cdp != nil {
		c.cdp.close()
		c.cdp = nil
	}
	c.page = nil
}

// Page returns the chart tab, refreshing the target list first.
func (c *Client) Page(ctx context.Context) (PageInfo, error) {
	page, err := c.resolvePage(ctx)
	if err != nil {
		return PageInfo{}, err
	}
	return page.info, nil
}

// CaptureScreenshot returns the decoded image of the chart tab.
func (c *Client) CaptureScreenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	switch format {
	case "", "png":
		format = "png"
	case "jpeg":
	default:
		return nil, newError(CodeValidation, "format must be png or jpeg", nil)
	}

	var data string
	err := c.withSession(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		var err error
		data, err = cdp.captureScreenshot(ctx, sessionID, format, quality)
		if err != nil {
			return newError(CodeEvalFailure, "capture screenshot failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, newError(CodeEvalFailure, "decode screenshot failed", err)
	}
	return img, nil
}

// evalOnPage runs a wrapped script on the chart page and decodes its data
// into out. Transient failures are retried once after a reconnect.
func (c *Client) evalOnPage(ctx context.Context, js string, out any) error {
	return c.withSession(ctx, func(ctx context.Context, cdp *rawCDP, sessionID string) error {
		return c.evalOnSession(ctx, cdp, sessionID, js, out)
	})
}

func (c *Client) withSession(ctx context.Context, fn func(ctx context.Context, cdp *rawCDP, sessionID string) error) error {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	err := c.trySession(ctx, fn)
	if err == nil || !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshPage(ctx); syncErr != nil {
		slog.Warn("cdpcontrol page refresh failed during retry", "error", syncErr)
	}
	return c.trySession(ctx, fn)
}

func (c *Client) trySession(ctx context.Context, fn func(ctx context.Context, cdp *rawCDP, sessionID string) error) error {
	page, err := c.resolvePage(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	sessionID, err := c.ensureSession(ctx, cdp, page)
	if err != nil {
		return err
	}
	if err := fn(ctx, cdp, sessionID); err != nil {
		if !c.asCode(err, CodeEvalTimeout) && c.shouldRetry(err) {
			page.mu.Lock()
			page.sessionID = ""
			page.mu.Unlock()
		}
		return err
	}
	return nil
}

func (c *Client) evalOnSession(ctx context.Context, cdp *rawCDP, sessionID, js string, out any) error {
	evalCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
	defer cancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "session_id", sessionID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		return fromEnvelope(env)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession attaches to the page if needed and installs the event
// binding on the new session.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, page *pageSession) (string, error) {
	page.mu.Lock()
	defer page.mu.Unlock()
	if page.sessionID != "" {
		return page.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, page.info.TargetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	if err := cdp.enableRuntime(ctx, sid); err != nil {
		return "", newError(CodeCDPUnavailable, "enable runtime failed", err)
	}
	if err := cdp.addBinding(ctx, sid, bindingName); err != nil {
		return "", newError(CodeCDPUnavailable, "install event binding failed", err)
	}
	page.sessionID = sid
	c.events.setSession(sid)
	slog.Debug("cdpcontrol session attached", "target_id", page.info.TargetID, "session_id", sid)
	return sid, nil
}

func (c *Client) resolvePage(ctx context.Context) (*pageSession, error) {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page != nil {
		return page, nil
	}
	if err := c.refreshPage(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	page = c.page
	c.mu.Unlock()
	if page == nil {
		return nil, newError(CodePageNotFound, "no chart page matches "+c.pageFilter, nil)
	}
	return page, nil
}

func (c *Client) refreshPage(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	err := c.syncPageLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}
	return nil
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil && c.cdp.connected()
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

// syncPageLocked picks the chart tab. An existing session is kept when its
// target is still open.
func (c *Client) syncPageLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	var match *target.Info
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.pageFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.pageFilter) {
			continue
		}
		if c.page != nil && string(t.TargetID) == c.page.info.TargetID {
			match = t
			break
		}
		if match == nil {
			match = t
		}
	}

	if match == nil {
		c.page = nil
		slog.Debug("cdpcontrol page sync", "targets", len(targets), "found", false)
		return nil
	}
	info := PageInfo{TargetID: string(match.TargetID), URL: match.URL, Title: match.Title}
	if c.page != nil && c.page.info.TargetID == info.TargetID {
		c.page.info = info
	} else {
		c.page = &pageSession{info: info}
	}
	slog.Debug("cdpcontrol page sync", "targets", len(targets), "found", true, "target_id", info.TargetID)
	return nil
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	return HasCode(err, code)
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// wrapJSEval wraps body in an IIFE that installs the page runtime first and
// turns any thrown error into a failed envelope.
func wrapJSEval(body string) string {
	return "(function(){\ntry {\n" + jsRuntime + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}
