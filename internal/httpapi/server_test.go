package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxhook/voxhook/internal/config"
	"github.com/voxhook/voxhook/internal/observability"
	"github.com/voxhook/voxhook/internal/turnlog"
	"github.com/voxhook/voxhook/internal/webhook"
)

func testMetrics(prefix string) *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()))
}

func testServer(t *testing.T, d *webhook.Dispatcher) (*httptest.Server, turnlog.Store) {
	t.Helper()
	cfg := config.Config{TurnLogLimit: 100}
	store := turnlog.NewInMemoryStore()
	srv := New(cfg, d, store, testMetrics("test_httpapi_"))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func echoDispatcher() *webhook.Dispatcher {
	return webhook.HandleFunc(func(ctx context.Context, c *webhook.Conversation) error {
		return c.Tell("you said " + c.RawInput())
	})
}

const actionsTurnBody = `{
	"user": {"userId": "u-1"},
	"conversation": {"conversationId": "c-42", "type": "ACTIVE"},
	"inputs": [{
		"intent": "actions.intent.TEXT",
		"rawInputs": [{"query": "ping"}]
	}]
}`

func TestWebhookTurnAndTurnLog(t *testing.T) {
	ts, _ := testServer(t, echoDispatcher())

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/webhook", bytes.NewReader([]byte(actionsTurnBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Google-Actions-API-Version", "2")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", res.StatusCode)
	}

	var envelope map[string]any
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope["expectUserResponse"] != false {
		t.Fatalf("expectUserResponse = %v, want false", envelope["expectUserResponse"])
	}

	turnsRes, err := http.Get(ts.URL + "/v1/turns?conversation_id=c-42")
	if err != nil {
		t.Fatalf("list turns error = %v", err)
	}
	defer turnsRes.Body.Close()
	if turnsRes.StatusCode != http.StatusOK {
		t.Fatalf("list turns status = %d, want 200", turnsRes.StatusCode)
	}
	var listed struct {
		Turns []turnlog.Record `json:"turns"`
	}
	if err := json.NewDecoder(turnsRes.Body).Decode(&listed); err != nil {
		t.Fatalf("decode turns: %v", err)
	}
	if len(listed.Turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(listed.Turns))
	}
	rec := listed.Turns[0]
	if rec.Intent != "actions.intent.TEXT" || rec.ResponseText != "you said ping" || !rec.Final {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	ts, _ := testServer(t, echoDispatcher())

	res, err := http.Post(ts.URL+"/webhook", "application/json", strings.NewReader(`{broken`))
	if err != nil {
		t.Fatalf("webhook request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(res.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.HasPrefix(buf.String(), webhook.ErrorPrefix) {
		t.Fatalf("body = %q, want error prefix", buf.String())
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	ts, _ := testServer(t, echoDispatcher())
	res, err := http.Get(ts.URL + "/webhook")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", res.StatusCode)
	}
}

func TestHealthReportsTurnLogMode(t *testing.T) {
	ts, _ := testServer(t, echoDispatcher())
	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" || body["turn_log_mode"] != "in-memory" {
		t.Fatalf("health body = %+v", body)
	}
}

func TestListTurnsRequiresConversationID(t *testing.T) {
	ts, _ := testServer(t, echoDispatcher())
	res, err := http.Get(ts.URL + "/v1/turns")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	ts, _ := testServer(t, echoDispatcher())

	res, err := http.Post(ts.URL+"/webhook", "application/json", strings.NewReader(actionsTurnBody))
	if err != nil {
		t.Fatalf("webhook request error = %v", err)
	}
	res.Body.Close()

	perfRes, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("perf request error = %v", err)
	}
	defer perfRes.Body.Close()
	var snap observability.StageSnapshot
	if err := json.NewDecoder(perfRes.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Stages) == 0 {
		t.Fatalf("snapshot has no stages after a turn")
	}
}
