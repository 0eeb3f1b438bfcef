package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func noHeaders(string) string { return "" }

func headerMap(h map[string]string) HeaderGetter {
	return func(name string) string { return h[name] }
}

func TestResolveAPIVersionPrecedence(t *testing.T) {
	v := ResolveAPIVersion(headerMap(map[string]string{
		HeaderActionsAPIVersion:   "2",
		HeaderAssistantAPIVersion: "1",
	}), "1")
	if v != 2 {
		t.Fatalf("version = %d, want 2 (Actions header wins)", v)
	}

	v = ResolveAPIVersion(headerMap(map[string]string{
		HeaderAssistantAPIVersion: "2",
	}), "1")
	if v != 2 {
		t.Fatalf("version = %d, want 2 (Assistant header next)", v)
	}

	v = ResolveAPIVersion(noHeaders, "2")
	if v != 2 {
		t.Fatalf("version = %d, want 2 (embedded version last)", v)
	}

	if v := ResolveAPIVersion(noHeaders, ""); v != 1 {
		t.Fatalf("version = %d, want legacy default 1", v)
	}
	if v := ResolveAPIVersion(headerMap(map[string]string{HeaderActionsAPIVersion: "junk"}), ""); v != 1 {
		t.Fatalf("version = %d, want 1 for unparseable header", v)
	}
}

func TestParseRequestActionsSDKModern(t *testing.T) {
	body := []byte(`{
		"user": {"userId": "u-1", "locale": "en-US"},
		"conversation": {"conversationId": "c-1", "type": "NEW", "conversationToken": "{\"state\":\"S1\",\"data\":{}}"},
		"inputs": [{
			"intent": "actions.intent.MAIN",
			"rawInputs": [{"query": "talk to my test app"}]
		}],
		"surface": {"capabilities": [{"name": "actions.capability.AUDIO_OUTPUT"}]}
	}`)

	req, err := ParseRequest(body, headerMap(map[string]string{HeaderActionsAPIVersion: "2"}))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Schema != SchemaActionsSDK {
		t.Fatalf("schema = %q, want %q", req.Schema, SchemaActionsSDK)
	}
	if req.APIVersion != 2 {
		t.Fatalf("APIVersion = %d, want 2", req.APIVersion)
	}
	if req.ActionsSDK == nil || len(req.ActionsSDK.Inputs) != 1 {
		t.Fatalf("missing inputs: %+v", req.ActionsSDK)
	}
	if got := req.ActionsSDK.Inputs[0].Intent; got != IntentMain {
		t.Fatalf("intent = %q, want %q", got, IntentMain)
	}
	if req.ActionsSDK.User.UserID != "u-1" {
		t.Fatalf("user id = %q, want u-1", req.ActionsSDK.User.UserID)
	}
}

func TestParseRequestLegacySnakeCase(t *testing.T) {
	body := []byte(`{
		"user": {"user_id": "u-1"},
		"conversation": {"conversation_id": "c-1", "conversation_token": "tok"},
		"inputs": [{
			"intent": "actions.intent.TEXT",
			"raw_inputs": [{"query": "hello"}],
			"arguments": [{"name": "text", "raw_text": "hello", "text_value": "hello"}]
		}]
	}`)

	req, err := ParseRequest(body, noHeaders)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.APIVersion != 1 {
		t.Fatalf("APIVersion = %d, want 1", req.APIVersion)
	}
	if req.ActionsSDK.User.UserID != "u-1" {
		t.Fatalf("snake_case user_id was not normalized: %+v", req.ActionsSDK.User)
	}
	if req.ActionsSDK.Conversation.ConversationToken != "tok" {
		t.Fatalf("conversation_token was not normalized: %+v", req.ActionsSDK.Conversation)
	}
	args := req.ActionsSDK.Inputs[0].Arguments
	if len(args) != 1 || args[0].TextValue != "hello" {
		t.Fatalf("arguments not normalized: %+v", args)
	}
}

func TestParseRequestDialogflow(t *testing.T) {
	body := []byte(`{
		"id": "req-1",
		"sessionId": "sess-1",
		"result": {
			"action": "order.pizza",
			"resolvedQuery": "one large pizza",
			"parameters": {"size": "large"},
			"contexts": [{"name": "order", "lifespan": 5, "parameters": {"size": "large", "size.original": "LARGE"}}]
		},
		"originalRequest": {
			"version": "2",
			"data": {
				"user": {"userId": "u-9"},
				"conversation": {"conversationId": "c-9", "type": "ACTIVE"}
			}
		}
	}`)

	req, err := ParseRequest(body, noHeaders)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Schema != SchemaDialogflow {
		t.Fatalf("schema = %q, want %q", req.Schema, SchemaDialogflow)
	}
	if req.APIVersion != 2 {
		t.Fatalf("APIVersion = %d, want 2 from originalRequest.version", req.APIVersion)
	}
	if req.Dialogflow.Result.Action != "order.pizza" {
		t.Fatalf("action = %q", req.Dialogflow.Result.Action)
	}
	if req.ActionsSDK == nil || req.ActionsSDK.User.UserID != "u-9" {
		t.Fatalf("originalRequest.data not surfaced: %+v", req.ActionsSDK)
	}
	if len(req.Dialogflow.Result.Contexts) != 1 {
		t.Fatalf("contexts = %+v", req.Dialogflow.Result.Contexts)
	}
}

func TestParseRequestErrors(t *testing.T) {
	if _, err := ParseRequest(nil, noHeaders); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("error = %v, want ErrEmptyBody", err)
	}
	if _, err := ParseRequest([]byte(`{not json`), noHeaders); !errors.Is(err, ErrMalformedJSON) {
		t.Fatalf("error = %v, want ErrMalformedJSON", err)
	}
}

func TestMarshalResponseLegacySnakeCases(t *testing.T) {
	resp := AppResponse{
		ConversationToken:  `{"state":"S1"}`,
		ExpectUserResponse: true,
		ExpectedInputs: []ExpectedInput{{
			InputPrompt: &InputPrompt{
				InitialPrompts: []SpeechResponse{{TextToSpeech: "hi"}},
			},
			PossibleIntents: []ExpectedIntent{{Intent: IntentText}},
		}},
	}

	raw, err := MarshalResponse(resp, 1)
	if err != nil {
		t.Fatalf("MarshalResponse() error = %v", err)
	}
	s := string(raw)
	for _, key := range []string{"expect_user_response", "conversation_token", "expected_inputs", "input_prompt", "initial_prompts", "text_to_speech", "possible_intents"} {
		if !strings.Contains(s, `"`+key+`"`) {
			t.Fatalf("legacy response missing %q: %s", key, s)
		}
	}
	if strings.Contains(s, "expectUserResponse") {
		t.Fatalf("legacy response still has camelCase keys: %s", s)
	}

	modern, err := MarshalResponse(resp, 2)
	if err != nil {
		t.Fatalf("MarshalResponse() error = %v", err)
	}
	var decoded AppResponse
	if err := json.Unmarshal(modern, &decoded); err != nil {
		t.Fatalf("modern response does not re-decode: %v", err)
	}
	if !decoded.ExpectUserResponse {
		t.Fatalf("modern response lost expectUserResponse")
	}
}
