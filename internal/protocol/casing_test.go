package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestToCamel(t *testing.T) {
	cases := map[string]string{
		"expect_user_response": "expectUserResponse",
		"conversation_token":   "conversationToken",
		"speech_response":      "speechResponse",
		"query":                "query",
		"alreadyCamel":         "alreadyCamel",
		"":                     "",
	}
	for in, want := range cases {
		if got := ToCamel(in); got != want {
			t.Fatalf("ToCamel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToSnake(t *testing.T) {
	cases := map[string]string{
		"expectUserResponse": "expect_user_response",
		"conversationToken":  "conversation_token",
		"query":              "query",
		"":                   "",
	}
	for in, want := range cases {
		if got := ToSnake(in); got != want {
			t.Fatalf("ToSnake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCasingRoundTripIsIdentity(t *testing.T) {
	legacy := []byte(`{
		"expect_user_response": true,
		"conversation_token": "{\"state\":null}",
		"expected_inputs": [
			{
				"input_prompt": {
					"initial_prompts": [{"text_to_speech": "hi there"}]
				},
				"possible_intents": [{"intent": "actions.intent.TEXT"}]
			}
		]
	}`)

	var doc any
	if err := json.Unmarshal(legacy, &doc); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	round := SnakeifyKeys(CamelizeKeys(doc))
	if !reflect.DeepEqual(doc, round) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", round, doc)
	}
}

func TestCamelizeKeysLeavesValuesAlone(t *testing.T) {
	doc := map[string]any{
		"raw_inputs": []any{
			map[string]any{"query": "snake_case_value stays"},
		},
	}
	out := CamelizeKeys(doc).(map[string]any)
	inputs, ok := out["rawInputs"].([]any)
	if !ok || len(inputs) != 1 {
		t.Fatalf("rawInputs missing from %#v", out)
	}
	q := inputs[0].(map[string]any)["query"]
	if q != "snake_case_value stays" {
		t.Fatalf("value was rewritten: %v", q)
	}
}
