package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyBody     = errors.New("empty request body")
	ErrMalformedJSON = errors.New("malformed JSON body")
)

// ModernAPIVersion is the first protocol version that uses camelCase keys.
const ModernAPIVersion = 2

// HeaderGetter reads one HTTP request header; it is the only part of the
// HTTP request object the parser depends on.
type HeaderGetter func(name string) string

// ResolveAPIVersion picks the protocol version for a turn. Precedence:
// Google-Actions-API-Version header, Google-Assistant-API-Version header,
// then the version field embedded in a Dialogflow originalRequest wrapper.
// No indicator anywhere means legacy (version 1).
func ResolveAPIVersion(header HeaderGetter, embedded string) int {
	for _, raw := range []string{
		header(HeaderActionsAPIVersion),
		header(HeaderAssistantAPIVersion),
		embedded,
	} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return 1
}

// ParseRequest decodes one inbound webhook body into the normalized Request.
// Legacy bodies have their keys camelized before any field is read.
func ParseRequest(body []byte, header HeaderGetter) (*Request, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	embeddedVersion := embeddedAPIVersion(doc)
	version := ResolveAPIVersion(header, embeddedVersion)
	if version < ModernAPIVersion {
		doc = CamelizeKeys(doc).(map[string]any)
	}

	req := &Request{
		APIVersion:        version,
		AgentVersionLabel: strings.TrimSpace(header(HeaderAgentVersionLabel)),
	}

	// A result block marks the NLU-processed schema; everything else is
	// treated as a raw Actions SDK turn.
	if _, ok := doc["result"]; ok {
		req.Schema = SchemaDialogflow
		var df DialogflowRequest
		if err := redecode(doc, &df); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		req.Dialogflow = &df
		if df.OriginalRequest != nil {
			req.ActionsSDK = df.OriginalRequest.Data
		}
		return req, nil
	}

	req.Schema = SchemaActionsSDK
	var app AppRequest
	if err := redecode(doc, &app); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	req.ActionsSDK = &app
	return req, nil
}

// embeddedAPIVersion digs the version out of a Dialogflow originalRequest
// wrapper before key normalization has happened.
func embeddedAPIVersion(doc map[string]any) string {
	for _, key := range []string{"originalRequest", "original_request"} {
		wrapper, ok := doc[key].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := wrapper["version"].(string); ok {
			return v
		}
	}
	return ""
}

func redecode(doc map[string]any, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// MarshalResponse serializes an outgoing envelope, snake-casing every key
// when the turn's protocol version is legacy.
func MarshalResponse(envelope any, apiVersion int) ([]byte, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	if apiVersion >= ModernAPIVersion {
		return raw, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(SnakeifyKeys(doc))
}
