package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/potlink/internal/sample"
	"github.com/danmuck/potlink/internal/testutil/testlog"
)

type fixedOutput bool

func (o fixedOutput) State() bool { return bool(o) }

func get(t *testing.T, n *Node, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	n.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rr, body
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	n := New(Config{ID: "status-a"}, sample.NewAtomic(0))

	rr, body := get(t, n, "/health")
	if rr.Code != http.StatusOK || body["status"] != "ok" || body["service"] != "status-a" {
		t.Fatalf("unexpected health %d %#v", rr.Code, body)
	}

	rr, body = get(t, n, "/ready")
	if rr.Code != http.StatusServiceUnavailable || body["ready"] != false {
		t.Fatalf("expected not ready, got %d %#v", rr.Code, body)
	}
	n.SetReady(true)
	rr, body = get(t, n, "/ready")
	if rr.Code != http.StatusOK || body["ready"] != true {
		t.Fatalf("expected ready, got %d %#v", rr.Code, body)
	}
}

func TestSampleSnapshot(t *testing.T) {
	testlog.Start(t)
	src := sample.NewAtomic(2048)
	n := New(Config{ID: "status-b"}, src)

	rr, body := get(t, n, "/sample")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if body["raw"] != float64(2048) || body["reply"] != float64(128) || body["level"] != "f" {
		t.Fatalf("unexpected snapshot %#v", body)
	}
}

func TestOutputsAreSorted(t *testing.T) {
	testlog.Start(t)
	n := New(Config{ID: "status-c"}, sample.NewAtomic(0))
	n.AddOutput("led2", fixedOutput(false))
	n.AddOutput("led1", fixedOutput(true))

	rr := httptest.NewRecorder()
	n.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/outputs", nil))
	var body struct {
		Outputs []OutputInfo `json:"outputs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Outputs) != 2 || body.Outputs[0].Name != "led1" || !body.Outputs[0].On || body.Outputs[1].On {
		t.Fatalf("unexpected outputs %#v", body.Outputs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	n := New(Config{ID: "status-d"}, sample.NewAtomic(0))
	get(t, n, "/health")
	rr, _ := get(t, n, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "potlink_status_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestSampleStreamOverWebsocket(t *testing.T) {
	testlog.Start(t)
	src := sample.NewAtomic(160)
	n := New(Config{ID: "status-e", StreamInterval: 10 * time.Millisecond}, src)
	srv := httptest.NewServer(n.HTTPRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sample?count=2"
	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	ws, _, err := d.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	for i := 0; i < 2; i++ {
		var snap Snapshot
		if err := ws.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot %d: %v", i, err)
		}
		if snap.Raw != 160 || snap.Reply != 10 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	}
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after count, got %v", err)
	}
}

func TestSampleStreamRejectsBadCount(t *testing.T) {
	testlog.Start(t)
	n := New(Config{ID: "status-f"}, sample.NewAtomic(0))
	rr, _ := get(t, n, "/ws/sample?count=-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
