package protocol

import "encoding/json"

// Schema identifies which of the two inbound webhook schemas a request uses.
type Schema string

const (
	SchemaActionsSDK Schema = "actions_sdk"
	SchemaDialogflow Schema = "dialogflow"
)

// Platform intents the assistant resolves on behalf of the action.
const (
	IntentMain                         = "actions.intent.MAIN"
	IntentText                         = "actions.intent.TEXT"
	IntentPermission                   = "actions.intent.PERMISSION"
	IntentOption                       = "actions.intent.OPTION"
	IntentTransactionRequirementsCheck = "actions.intent.TRANSACTION_REQUIREMENTS_CHECK"
	IntentDeliveryAddress              = "actions.intent.DELIVERY_ADDRESS"
	IntentTransactionDecision          = "actions.intent.TRANSACTION_DECISION"
	IntentConfirmation                 = "actions.intent.CONFIRMATION"
	IntentDateTime                     = "actions.intent.DATETIME"
	IntentSignIn                       = "actions.intent.SIGN_IN"
)

// HTTP headers consumed by the version resolver.
const (
	HeaderActionsAPIVersion   = "Google-Actions-API-Version"
	HeaderAssistantAPIVersion = "Google-Assistant-API-Version"
	HeaderAgentVersionLabel   = "Agent-Version-Label"
	HeaderContentType         = "Content-Type"
)

// ContentTypeJSON is the media type of every webhook response body.
const ContentTypeJSON = "application/json"

// ConversationTypeNew marks the first turn of a conversation.
const (
	ConversationTypeNew    = "NEW"
	ConversationTypeActive = "ACTIVE"
)

// Argument is one named slot value attached to an input.
type Argument struct {
	Name          string          `json:"name"`
	RawText       string          `json:"rawText,omitempty"`
	TextValue     string          `json:"textValue,omitempty"`
	BoolValue     *bool           `json:"boolValue,omitempty"`
	DatetimeValue json.RawMessage `json:"datetimeValue,omitempty"`
	Extension     json.RawMessage `json:"extension,omitempty"`

	// Original carries the raw user phrasing when a `<name>.original`
	// companion parameter exists alongside a context parameter.
	Original string `json:"original,omitempty"`

	// Value holds the parameter value for arguments resolved out of a
	// Dialogflow context rather than an Actions SDK input.
	Value any `json:"value,omitempty"`
}

// RawInput is the unprocessed user utterance for one input.
type RawInput struct {
	InputType any    `json:"inputType,omitempty"`
	Query     string `json:"query"`
}

// Input is a single element of the Actions SDK inputs list.
type Input struct {
	Intent    string     `json:"intent"`
	RawInputs []RawInput `json:"rawInputs,omitempty"`
	Arguments []Argument `json:"arguments,omitempty"`
}

// UserProfile carries the user's name when the action holds the
// NAME permission.
type UserProfile struct {
	DisplayName string `json:"displayName,omitempty"`
	GivenName   string `json:"givenName,omitempty"`
	FamilyName  string `json:"familyName,omitempty"`
}

type User struct {
	UserID      string       `json:"userId"`
	Profile     *UserProfile `json:"profile,omitempty"`
	AccessToken string       `json:"accessToken,omitempty"`
	Locale      string       `json:"locale,omitempty"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is available when the action holds a device location permission.
type Location struct {
	Coordinates      *Coordinates `json:"coordinates,omitempty"`
	FormattedAddress string       `json:"formattedAddress,omitempty"`
	ZipCode          string       `json:"zipCode,omitempty"`
	City             string       `json:"city,omitempty"`
}

type Device struct {
	Location *Location `json:"location,omitempty"`
}

type Capability struct {
	Name string `json:"name"`
}

type Surface struct {
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// ConversationInfo tracks conversation identity and the opaque token that
// carries dialog state between turns.
type ConversationInfo struct {
	ConversationID    string `json:"conversationId,omitempty"`
	Type              string `json:"type,omitempty"`
	ConversationToken string `json:"conversationToken,omitempty"`
}

// AppRequest is the Actions SDK turn shape. The same shape appears nested
// under originalRequest.data in Dialogflow requests.
type AppRequest struct {
	User         *User            `json:"user,omitempty"`
	Device       *Device          `json:"device,omitempty"`
	Surface      *Surface         `json:"surface,omitempty"`
	Conversation ConversationInfo `json:"conversation,omitempty"`
	Inputs       []Input          `json:"inputs,omitempty"`
}

// Context is a Dialogflow conversation context.
type Context struct {
	Name       string         `json:"name"`
	Lifespan   int            `json:"lifespan"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Result is the NLU output portion of a Dialogflow request.
type Result struct {
	Action        string         `json:"action"`
	ResolvedQuery string         `json:"resolvedQuery,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Contexts      []Context      `json:"contexts,omitempty"`
}

// OriginalRequest wraps the raw Actions SDK payload inside a Dialogflow request.
type OriginalRequest struct {
	Source  string      `json:"source,omitempty"`
	Version string      `json:"version,omitempty"`
	Data    *AppRequest `json:"data,omitempty"`
}

// DialogflowRequest is the NLU-processed turn shape.
type DialogflowRequest struct {
	ID              string           `json:"id,omitempty"`
	SessionID       string           `json:"sessionId,omitempty"`
	Result          Result           `json:"result"`
	OriginalRequest *OriginalRequest `json:"originalRequest,omitempty"`
}

// Request is the normalized view of one inbound turn, independent of which
// schema carried it. It is read-only after ParseRequest returns.
type Request struct {
	Schema            Schema
	APIVersion        int
	AgentVersionLabel string

	// ActionsSDK is always set for SchemaActionsSDK and set for
	// SchemaDialogflow when originalRequest.data is present.
	ActionsSDK *AppRequest
	Dialogflow *DialogflowRequest
}

// SpeechResponse is a single spoken prompt, either plain text or SSML.
type SpeechResponse struct {
	TextToSpeech string `json:"textToSpeech,omitempty"`
	SSML         string `json:"ssml,omitempty"`
}

// InputPrompt groups the initial prompt with up to three no-input reprompts.
type InputPrompt struct {
	InitialPrompts []SpeechResponse `json:"initialPrompts,omitempty"`
	NoInputPrompts []SpeechResponse `json:"noInputPrompts,omitempty"`
}

// ExpectedIntent asks the platform to resolve a particular intent on the
// next turn, optionally with an intent-specific value spec.
type ExpectedIntent struct {
	Intent         string         `json:"intent"`
	InputValueData map[string]any `json:"inputValueData,omitempty"`
}

type ExpectedInput struct {
	InputPrompt     *InputPrompt     `json:"inputPrompt,omitempty"`
	PossibleIntents []ExpectedIntent `json:"possibleIntents,omitempty"`
}

type FinalResponse struct {
	SpeechResponse *SpeechResponse `json:"speechResponse,omitempty"`

	// RichResponse passes an opaque rich-response object through unmodified.
	RichResponse map[string]any `json:"richResponse,omitempty"`
}

// AppResponse is the Actions SDK response envelope.
type AppResponse struct {
	ConversationToken  string          `json:"conversationToken,omitempty"`
	ExpectUserResponse bool            `json:"expectUserResponse"`
	ExpectedInputs     []ExpectedInput `json:"expectedInputs,omitempty"`
	FinalResponse      *FinalResponse  `json:"finalResponse,omitempty"`
}

// GooglePayload is the assistant-specific portion of a Dialogflow response.
type GooglePayload struct {
	ExpectUserResponse bool             `json:"expectUserResponse"`
	IsSSML             bool             `json:"isSsml"`
	NoInputPrompts     []SpeechResponse `json:"noInputPrompts,omitempty"`
	ExpectedInputs     []ExpectedInput  `json:"expectedInputs,omitempty"`
	SystemIntent       *ExpectedIntent  `json:"systemIntent,omitempty"`
	RichResponse       map[string]any   `json:"richResponse,omitempty"`
}

type ResponseData struct {
	Google *GooglePayload `json:"google,omitempty"`
}

// DialogflowResponse is the Dialogflow response envelope. Dialog state rides
// in a reserved context instead of a conversation token.
type DialogflowResponse struct {
	Speech      string        `json:"speech,omitempty"`
	DisplayText string        `json:"displayText,omitempty"`
	Data        *ResponseData `json:"data,omitempty"`
	ContextOut  []Context     `json:"contextOut,omitempty"`
}
