package cdpcontrol

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const fakeSessionID = "S1"

// fakeBrowser speaks enough CDP for the client: target listing, attach,
// Runtime.evaluate answered by a script handler, and binding events.
type fakeBrowser struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	conn         net.Conn
	targets      []map[string]string
	scripts      []string
	methods      []string
	evaluate     func(expr string) (envelope string, cdpErr string)
	screenshot   string
	failNextEval string
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	b := &fakeBrowser{
		t: t,
		targets: []map[string]string{
			{"id": "sw", "type": "service_worker", "url": "http://127.0.0.1/sw.js"},
			{"id": "T1", "type": "page", "url": "http://127.0.0.1:8190/chart", "title": "perpchart"},
		},
		evaluate: func(string) (string, string) { return `{"ok":true}`, "" },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(b.server.URL, "http") + "/devtools/browser/fake"
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(b.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", b.serveWS)
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		b.t.Errorf("upgrade: %v", err)
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	defer conn.Close()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			b.t.Errorf("bad request: %v", err)
			return
		}
		b.write(b.respond(req.ID, req.Method, req.Params))
	}
}

func (b *fakeBrowser) respond(id int64, method string, params json.RawMessage) map[string]any {
	b.mu.Lock()
	b.methods = append(b.methods, method)
	b.mu.Unlock()

	resp := map[string]any{"id": id}
	switch method {
	case "Target.attachToTarget":
		resp["result"] = map[string]any{"sessionId": fakeSessionID}
	case "Runtime.evaluate":
		var p struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(params, &p)
		b.mu.Lock()
		b.scripts = append(b.scripts, p.Expression)
		fail := b.failNextEval
		b.failNextEval = ""
		eval := b.evaluate
		b.mu.Unlock()
		if fail != "" {
			resp["error"] = map[string]any{"code": -32000, "message": fail}
			return resp
		}
		env, cdpErr := eval(p.Expression)
		if cdpErr != "" {
			resp["error"] = map[string]any{"code": -32000, "message": cdpErr}
			return resp
		}
		resp["result"] = map[string]any{"result": map[string]any{"type": "string", "value": env}}
	case "Page.captureScreenshot":
		resp["result"] = map[string]any{"data": b.screenshot}
	default:
		resp["result"] = map[string]any{}
	}
	return resp
}

func (b *fakeBrowser) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.t.Errorf("marshal: %v", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return
	}
	_ = wsutil.WriteServerText(b.conn, data)
}

// emit pushes a binding call as if the page had called the event binding.
func (b *fakeBrowser) emit(sessionID string, ev map[string]any) {
	payload, _ := json.Marshal(ev)
	b.write(map[string]any{
		"method":    "Runtime.bindingCalled",
		"sessionId": sessionID,
		"params":    map[string]any{"name": bindingName, "payload": string(payload), "executionContextId": 1},
	})
}

func (b *fakeBrowser) Scripts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.scripts...)
}

func (b *fakeBrowser) Methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.methods...)
}

func (b *fakeBrowser) setEvaluate(fn func(expr string) (string, string)) {
	b.mu.Lock()
	b.evaluate = fn
	b.mu.Unlock()
}

func envelope(data any) string {
	raw, _ := json.Marshal(map[string]any{"ok": true, "data": data})
	return string(raw)
}

func failure(code, msg string) string {
	return fmt.Sprintf(`{"ok":false,"error_code":%q,"error_message":%q}`, code, msg)
}
