package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/voxhook/voxhook/internal/logger"
	"github.com/voxhook/voxhook/internal/protocol"
)

// ErrorSpeech is the generic spoken fallback for handler and dispatch errors.
const ErrorSpeech = "Sorry, I am unable to process your request."

// ErrorPrefix leads the body of every 400 validation response.
const ErrorPrefix = "Action Error: "

// maxNoInputPrompts caps the no-input reprompt list; exceeding it is an
// error, not a truncation.
const maxNoInputPrompts = 3

// stateContextLifespan keeps the reserved state context alive across turns.
const stateContextLifespan = 100

// Permissions the action can request from the user.
const (
	PermissionName                  = "NAME"
	PermissionDevicePreciseLocation = "DEVICE_PRECISE_LOCATION"
	PermissionDeviceCoarseLocation  = "DEVICE_COARSE_LOCATION"
)

// Placeholder prompts the platform replaces with its own default phrasing.
const (
	placeholderPermission      = "PLACEHOLDER_FOR_PERMISSION"
	placeholderConfirmation    = "PLACEHOLDER_FOR_CONFIRMATION"
	placeholderDateTime        = "PLACEHOLDER_FOR_DATETIME"
	placeholderSignIn          = "PLACEHOLDER_FOR_SIGN_IN"
	placeholderTxnRequirements = "PLACEHOLDER_FOR_TXN_REQUIREMENTS"
	placeholderTxnDecision     = "PLACEHOLDER_FOR_TXN_DECISION"
	placeholderDeliveryAddress = "PLACEHOLDER_FOR_DELIVERY_ADDRESS"
)

// ErrResponded is returned by builders invoked after a response has already
// been written; the duplicate call is otherwise a no-op.
var ErrResponded = errors.New("response already sent for this turn")

var ssmlPattern = regexp.MustCompile(`(?is)^\s*<speak\b[^>]*>.*</speak>\s*$`)

// IsSSML reports whether a prompt string is framed as SSML markup.
func IsSSML(s string) bool {
	return ssmlPattern.MatchString(s)
}

func speechFor(prompt string) protocol.SpeechResponse {
	if IsSSML(prompt) {
		return protocol.SpeechResponse{SSML: prompt}
	}
	return protocol.SpeechResponse{TextToSpeech: prompt}
}

// Ask sends a prompt and keeps the conversation open. String prompts are
// SSML-detected; at most three no-input reprompts are accepted. The current
// dialog state is serialized into the outgoing conversation token.
func (c *Conversation) Ask(prompt string, noInputs ...string) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask"))
		return ErrResponded
	}
	if strings.TrimSpace(prompt) == "" {
		return c.validationError("ask prompt must not be empty")
	}
	if len(noInputs) > maxNoInputPrompts {
		return c.validationError(fmt.Sprintf("at most %d no-input prompts are allowed, got %d", maxNoInputPrompts, len(noInputs)))
	}

	ip := &protocol.InputPrompt{InitialPrompts: []protocol.SpeechResponse{speechFor(prompt)}}
	for _, ni := range noInputs {
		ip.NoInputPrompts = append(ip.NoInputPrompts, speechFor(ni))
	}
	return c.ask(ip, protocol.ExpectedIntent{Intent: protocol.IntentText})
}

// AskWithInput is the prompt-object variant of Ask.
func (c *Conversation) AskWithInput(prompt *protocol.InputPrompt) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask"))
		return ErrResponded
	}
	if prompt == nil || len(prompt.InitialPrompts) == 0 {
		return c.validationError("input prompt must carry at least one initial prompt")
	}
	if len(prompt.NoInputPrompts) > maxNoInputPrompts {
		return c.validationError(fmt.Sprintf("at most %d no-input prompts are allowed, got %d", maxNoInputPrompts, len(prompt.NoInputPrompts)))
	}
	return c.ask(prompt, protocol.ExpectedIntent{Intent: protocol.IntentText})
}

// Tell sends a final spoken response and ends the conversation.
func (c *Conversation) Tell(text string) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "tell"))
		return ErrResponded
	}
	if strings.TrimSpace(text) == "" {
		return c.validationError("tell text must not be empty")
	}
	return c.tellSpeech(speechFor(text), text)
}

// TellRich sends an opaque rich-response object as the conversation-ending
// payload. The object passes through unmodified.
func (c *Conversation) TellRich(rich map[string]any) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "tell"))
		return ErrResponded
	}
	if len(rich) == 0 {
		return c.validationError("rich response must not be empty")
	}

	if c.req.Schema == protocol.SchemaDialogflow {
		env := c.dialogflowEnvelope("", false, nil, nil)
		env.Data.Google.RichResponse = rich
		return c.send(env, http.StatusOK, "", true)
	}
	env := protocol.AppResponse{
		ExpectUserResponse: false,
		FinalResponse:      &protocol.FinalResponse{RichResponse: rich},
	}
	return c.send(env, http.StatusOK, "", true)
}

// AskForPermission requests one or more user permissions, speaking the
// platform default prompt with the given reason.
func (c *Conversation) AskForPermission(reason string, permissions ...string) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask_for_permission"))
		return ErrResponded
	}
	if len(permissions) == 0 {
		return c.validationError("at least one permission is required")
	}
	for _, p := range permissions {
		switch p {
		case PermissionName, PermissionDevicePreciseLocation, PermissionDeviceCoarseLocation:
		default:
			return c.validationError("unknown permission " + strconv.Quote(p))
		}
	}

	data := map[string]any{"permissions": permissions}
	if strings.TrimSpace(reason) != "" {
		data["optContext"] = reason
	}
	return c.askSystem(placeholderPermission, protocol.ExpectedIntent{
		Intent:         protocol.IntentPermission,
		InputValueData: data,
	})
}

// AskForConfirmation asks the user to confirm or deny before proceeding.
func (c *Conversation) AskForConfirmation(text string) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask_for_confirmation"))
		return ErrResponded
	}
	data := map[string]any{}
	if strings.TrimSpace(text) != "" {
		data["dialogSpec"] = map[string]any{"requestConfirmationText": text}
	}
	return c.askSystem(placeholderConfirmation, protocol.ExpectedIntent{
		Intent:         protocol.IntentConfirmation,
		InputValueData: data,
	})
}

// AskForDateTime asks the user for a date and time. Empty prompt strings
// fall back to the platform defaults.
func (c *Conversation) AskForDateTime(initialPrompt, datePrompt, timePrompt string) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask_for_datetime"))
		return ErrResponded
	}
	spec := map[string]any{}
	if initialPrompt != "" {
		spec["requestDatetimeText"] = initialPrompt
	}
	if datePrompt != "" {
		spec["requestDateText"] = datePrompt
	}
	if timePrompt != "" {
		spec["requestTimeText"] = timePrompt
	}
	data := map[string]any{}
	if len(spec) > 0 {
		data["dialogSpec"] = spec
	}
	return c.askSystem(placeholderDateTime, protocol.ExpectedIntent{
		Intent:         protocol.IntentDateTime,
		InputValueData: data,
	})
}

// AskForSignIn asks the user to link their account.
func (c *Conversation) AskForSignIn() error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask_for_sign_in"))
		return ErrResponded
	}
	return c.askSystem(placeholderSignIn, protocol.ExpectedIntent{
		Intent: protocol.IntentSignIn,
	})
}

// AskForTransactionRequirements checks whether the user can transact,
// passing the caller-supplied order options through unmodified.
func (c *Conversation) AskForTransactionRequirements(options map[string]any) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask_for_txn_requirements"))
		return ErrResponded
	}
	return c.askSystem(placeholderTxnRequirements, protocol.ExpectedIntent{
		Intent:         protocol.IntentTransactionRequirementsCheck,
		InputValueData: options,
	})
}

// AskForTransactionDecision asks the user to approve a proposed order.
func (c *Conversation) AskForTransactionDecision(order map[string]any, options map[string]any) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask_for_txn_decision"))
		return ErrResponded
	}
	if len(order) == 0 {
		return c.validationError("transaction decision requires a proposed order")
	}
	data := map[string]any{"proposedOrder": order}
	for k, v := range options {
		data[k] = v
	}
	return c.askSystem(placeholderTxnDecision, protocol.ExpectedIntent{
		Intent:         protocol.IntentTransactionDecision,
		InputValueData: data,
	})
}

// AskForDeliveryAddress asks the user to share a delivery address.
func (c *Conversation) AskForDeliveryAddress(reason string) error {
	if c.responded {
		logger.Log.Warn("duplicate response suppressed", zap.String("op", "ask_for_delivery_address"))
		return ErrResponded
	}
	data := map[string]any{}
	if strings.TrimSpace(reason) != "" {
		data["addressOptions"] = map[string]any{"reason": reason}
	}
	return c.askSystem(placeholderDeliveryAddress, protocol.ExpectedIntent{
		Intent:         protocol.IntentDeliveryAddress,
		InputValueData: data,
	})
}

// askSystem routes the specialized ask variants through the shared envelope
// path with the platform placeholder prompt.
func (c *Conversation) askSystem(placeholder string, intent protocol.ExpectedIntent) error {
	ip := &protocol.InputPrompt{
		InitialPrompts: []protocol.SpeechResponse{{TextToSpeech: placeholder}},
	}
	return c.ask(ip, intent)
}

func (c *Conversation) ask(prompt *protocol.InputPrompt, intent protocol.ExpectedIntent) error {
	speech := ""
	isSSML := false
	if len(prompt.InitialPrompts) > 0 {
		if prompt.InitialPrompts[0].SSML != "" {
			speech = prompt.InitialPrompts[0].SSML
			isSSML = true
		} else {
			speech = prompt.InitialPrompts[0].TextToSpeech
		}
	}

	if c.req.Schema == protocol.SchemaDialogflow {
		env := c.dialogflowEnvelope(speech, true, prompt.NoInputPrompts, &intent)
		env.Data.Google.IsSSML = isSSML
		return c.send(env, http.StatusOK, speech, false)
	}

	token, err := json.Marshal(c.state)
	if err != nil {
		return c.validationError("dialog state is not serializable: " + err.Error())
	}
	env := protocol.AppResponse{
		ConversationToken:  string(token),
		ExpectUserResponse: true,
		ExpectedInputs: []protocol.ExpectedInput{{
			InputPrompt:     prompt,
			PossibleIntents: []protocol.ExpectedIntent{intent},
		}},
	}
	return c.send(env, http.StatusOK, speech, false)
}

func (c *Conversation) tellSpeech(speech protocol.SpeechResponse, text string) error {
	if c.req.Schema == protocol.SchemaDialogflow {
		env := c.dialogflowEnvelope(text, false, nil, nil)
		return c.send(env, http.StatusOK, text, true)
	}
	env := protocol.AppResponse{
		ExpectUserResponse: false,
		FinalResponse:      &protocol.FinalResponse{SpeechResponse: &speech},
	}
	return c.send(env, http.StatusOK, text, true)
}

// dialogflowEnvelope assembles the Dialogflow response shape, carrying
// dialog state in the reserved context instead of a conversation token.
func (c *Conversation) dialogflowEnvelope(speech string, expectInput bool, noInputs []protocol.SpeechResponse, systemIntent *protocol.ExpectedIntent) *protocol.DialogflowResponse {
	env := &protocol.DialogflowResponse{
		Speech: speech,
		Data: &protocol.ResponseData{Google: &protocol.GooglePayload{
			ExpectUserResponse: expectInput,
			NoInputPrompts:     noInputs,
		}},
	}
	if systemIntent != nil && systemIntent.Intent != protocol.IntentText {
		env.Data.Google.SystemIntent = systemIntent
	}

	env.ContextOut = append(env.ContextOut, c.outContexts...)
	if expectInput {
		env.ContextOut = append(env.ContextOut, protocol.Context{
			Name:     StateContextName,
			Lifespan: stateContextLifespan,
			Parameters: map[string]any{
				"state": c.state.State,
				"data":  c.state.Data,
			},
		})
	}
	return env
}

// send writes the single outbound response for this turn.
func (c *Conversation) send(envelope any, status int, text string, final bool) error {
	raw, err := protocol.MarshalResponse(envelope, c.req.APIVersion)
	if err != nil {
		return c.validationError("response is not serializable: " + err.Error())
	}

	c.w.Header().Set(protocol.HeaderContentType, protocol.ContentTypeJSON)
	c.w.Header().Set(protocol.HeaderAssistantAPIVersion, strconv.Itoa(c.req.APIVersion))
	c.w.WriteHeader(status)
	if _, err := c.w.Write(raw); err != nil {
		logger.Log.Error("cannot write response body", zap.Error(err))
	}

	c.responded = true
	c.final = final
	c.responseText = text
	return nil
}

// validationError reports a local validation failure. The first one in a
// turn produces the 400 response; later ones only log.
func (c *Conversation) validationError(msg string) error {
	logger.Log.Error("request validation failed", zap.String("reason", msg))
	if !c.responded {
		c.w.Header().Set(protocol.HeaderContentType, "text/plain; charset=utf-8")
		c.w.WriteHeader(http.StatusBadRequest)
		if _, err := c.w.Write([]byte(ErrorPrefix + msg)); err != nil {
			logger.Log.Error("cannot write error response body", zap.Error(err))
		}
		c.responded = true
		c.final = true
	}
	return errors.New(msg)
}

// tellError speaks a terminal error message for handler and dispatch
// failures. If a response already went out, the failure is only logged.
func (c *Conversation) tellError(msg string) {
	if c.responded {
		logger.Log.Error("handler failed after response was sent", zap.String("reason", msg))
		return
	}
	speech := strings.TrimSpace(msg)
	if speech == "" {
		speech = ErrorSpeech
	}
	if err := c.tellSpeech(protocol.SpeechResponse{TextToSpeech: speech}, speech); err != nil {
		logger.Log.Error("cannot send error response", zap.Error(err))
	}
}
