package webhook

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/voxhook/voxhook/internal/protocol"
)

func parseTestRequest(t *testing.T, body string, headers map[string]string) *protocol.Request {
	t.Helper()
	req, err := protocol.ParseRequest([]byte(body), func(name string) string {
		return headers[name]
	})
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	return req
}

func actionsBody(intent, token string) string {
	b := map[string]any{
		"user": map[string]any{"userId": "u-1"},
		"conversation": map[string]any{
			"conversationId":    "c-1",
			"type":              "ACTIVE",
			"conversationToken": token,
		},
		"inputs": []any{map[string]any{
			"intent":    intent,
			"rawInputs": []any{map[string]any{"query": "hello there"}},
			"arguments": []any{
				map[string]any{"name": "guess", "rawText": "forty two", "textValue": "42"},
				map[string]any{"name": "structured", "boolValue": true},
			},
		}},
		"surface": map[string]any{"capabilities": []any{
			map[string]any{"name": "actions.capability.AUDIO_OUTPUT"},
		}},
	}
	raw, _ := json.Marshal(b)
	return string(raw)
}

func modernHeaders() map[string]string {
	return map[string]string{protocol.HeaderActionsAPIVersion: "2"}
}

func newActionsConversation(t *testing.T, intent, token string) (*Conversation, *httptest.ResponseRecorder) {
	t.Helper()
	req := parseTestRequest(t, actionsBody(intent, token), modernHeaders())
	w := httptest.NewRecorder()
	return NewConversation(req, w), w
}

func TestConversationReadsTokenState(t *testing.T) {
	c, _ := newActionsConversation(t, protocol.IntentText, `{"state":"S1","data":{"count":3}}`)
	if c.State() != "S1" {
		t.Fatalf("State() = %q, want S1", c.State())
	}
	if got := c.Data()["count"]; got != float64(3) {
		t.Fatalf("Data()[count] = %v, want 3", got)
	}
}

func TestConversationMalformedTokenFallsBackToEmptyState(t *testing.T) {
	c, _ := newActionsConversation(t, protocol.IntentText, `{not json`)
	if c.State() != "" {
		t.Fatalf("State() = %q, want empty for malformed token", c.State())
	}
	if c.Data() == nil {
		t.Fatalf("Data() must be usable after malformed token")
	}
}

func TestIntentAccessor(t *testing.T) {
	c, _ := newActionsConversation(t, protocol.IntentMain, "")
	if got := c.Intent(); got != protocol.IntentMain {
		t.Fatalf("Intent() = %q, want %q", got, protocol.IntentMain)
	}

	req := parseTestRequest(t, `{"inputs":[{"rawInputs":[{"query":"hi"}]}]}`, modernHeaders())
	c = NewConversation(req, httptest.NewRecorder())
	if got := c.Intent(); got != "" {
		t.Fatalf("Intent() = %q, want empty for missing intent", got)
	}
}

func TestArgumentPrefersTextValue(t *testing.T) {
	c, _ := newActionsConversation(t, protocol.IntentText, "")

	if got := c.Argument("guess"); got != "42" {
		t.Fatalf("Argument(guess) = %v, want textValue string", got)
	}

	v := c.Argument("structured")
	arg, ok := v.(*protocol.Argument)
	if !ok {
		t.Fatalf("Argument(structured) = %T, want *protocol.Argument", v)
	}
	if arg.BoolValue == nil || !*arg.BoolValue {
		t.Fatalf("structured argument lost boolValue: %+v", arg)
	}

	if got := c.Argument("missing"); got != nil {
		t.Fatalf("Argument(missing) = %v, want nil", got)
	}
}

func dialogflowBody(action, stateParams string) string {
	contexts := `[{"name":"game","lifespan":5,"parameters":{"guess":"42","guess.original":"forty two","bare":"x"}}`
	if stateParams != "" {
		contexts += `,{"name":"_voxhook_state_","lifespan":100,"parameters":` + stateParams + `}`
	}
	contexts += `]`
	return `{
		"id": "req-1",
		"sessionId": "sess-1",
		"result": {
			"action": "` + action + `",
			"resolvedQuery": "forty two",
			"parameters": {"guess": "42"},
			"contexts": ` + contexts + `
		},
		"originalRequest": {"version": "2", "data": {"user": {"userId": "u-2"}, "conversation": {"conversationId": "c-2"}}}
	}`
}

func newDialogflowConversation(t *testing.T, action, stateParams string) (*Conversation, *httptest.ResponseRecorder) {
	t.Helper()
	req := parseTestRequest(t, dialogflowBody(action, stateParams), nil)
	w := httptest.NewRecorder()
	return NewConversation(req, w), w
}

func TestContextArgument(t *testing.T) {
	c, _ := newDialogflowConversation(t, "game.guess", "")

	arg := c.ContextArgument("game", "guess")
	if arg == nil {
		t.Fatalf("ContextArgument(game, guess) = nil")
	}
	if arg.Value != "42" {
		t.Fatalf("Value = %v, want 42", arg.Value)
	}
	if arg.Original != "forty two" {
		t.Fatalf("Original = %q, want forty two", arg.Original)
	}

	bare := c.ContextArgument("game", "bare")
	if bare == nil {
		t.Fatalf("ContextArgument(game, bare) = nil")
	}
	if bare.Original != "" {
		t.Fatalf("Original = %q, want empty without .original sibling", bare.Original)
	}

	if got := c.ContextArgument("game", "nope"); got != nil {
		t.Fatalf("ContextArgument for absent parameter = %+v, want nil", got)
	}
	if got := c.ContextArgument("other", "guess"); got != nil {
		t.Fatalf("ContextArgument for absent context = %+v, want nil", got)
	}
	if got := c.ContextArgument("", "guess"); got != nil {
		t.Fatalf("ContextArgument with empty context name = %+v, want nil", got)
	}
}

func TestDialogflowStateContext(t *testing.T) {
	c, _ := newDialogflowConversation(t, "game.guess", `{"state":"S1","data":{"tries":2}}`)
	if c.State() != "S1" {
		t.Fatalf("State() = %q, want S1", c.State())
	}
	if got := c.Data()["tries"]; got != float64(2) {
		t.Fatalf("Data()[tries] = %v, want 2", got)
	}
	if c.ConversationID() != "sess-1" {
		t.Fatalf("ConversationID() = %q, want sess-1", c.ConversationID())
	}
	if c.Intent() != "game.guess" {
		t.Fatalf("Intent() = %q, want game.guess", c.Intent())
	}
	if c.RawInput() != "forty two" {
		t.Fatalf("RawInput() = %q, want resolvedQuery", c.RawInput())
	}
}

func TestDialogflowArgumentFromParameters(t *testing.T) {
	c, _ := newDialogflowConversation(t, "game.guess", "")
	if got := c.Argument("guess"); got != "42" {
		t.Fatalf("Argument(guess) = %v, want 42 from result.parameters", got)
	}
}

func TestSurfaceCapabilities(t *testing.T) {
	c, _ := newActionsConversation(t, protocol.IntentText, "")
	if !c.HasSurfaceCapability("actions.capability.AUDIO_OUTPUT") {
		t.Fatalf("HasSurfaceCapability(AUDIO_OUTPUT) = false, want true")
	}
	if c.HasSurfaceCapability("actions.capability.SCREEN_OUTPUT") {
		t.Fatalf("HasSurfaceCapability(SCREEN_OUTPUT) = true, want false")
	}
}

func TestUserAccessors(t *testing.T) {
	c, _ := newActionsConversation(t, protocol.IntentText, "")
	u := c.User()
	if u == nil || u.UserID != "u-1" {
		t.Fatalf("User() = %+v, want userId u-1", u)
	}
	if c.UserName() != nil {
		t.Fatalf("UserName() without NAME permission should be nil")
	}
	if c.DeviceLocation() != nil {
		t.Fatalf("DeviceLocation() without location should be nil")
	}
}
