package webhook

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/voxhook/voxhook/internal/logger"
	"github.com/voxhook/voxhook/internal/protocol"
)

// StateContextName is the reserved Dialogflow context that carries dialog
// state between turns, standing in for the Actions SDK conversation token.
const StateContextName = "_voxhook_state_"

// DialogState is the developer-defined (state identifier, data) pair the
// library round-trips through the conversation token. The library never
// interprets Data beyond JSON encode/decode.
type DialogState struct {
	State string         `json:"state"`
	Data  map[string]any `json:"data,omitempty"`
}

// Conversation is the per-turn view of one webhook request plus the single
// response that may be sent for it. Construct a fresh one per inbound
// request; it is not safe for use across turns.
type Conversation struct {
	req *protocol.Request
	w   http.ResponseWriter

	state       DialogState
	outContexts []protocol.Context

	responded    bool
	final        bool
	responseText string
}

// NewConversation builds the turn view from a parsed request. A malformed
// conversation token is a local error: it is logged and the turn proceeds
// with empty dialog state.
func NewConversation(req *protocol.Request, w http.ResponseWriter) *Conversation {
	c := &Conversation{req: req, w: w}
	c.state.Data = map[string]any{}

	switch req.Schema {
	case protocol.SchemaActionsSDK:
		token := ""
		if req.ActionsSDK != nil {
			token = req.ActionsSDK.Conversation.ConversationToken
		}
		if token != "" {
			var st DialogState
			if err := json.Unmarshal([]byte(token), &st); err != nil {
				logger.Log.Error("malformed conversation token, starting with empty state",
					zap.String("conversation_id", c.ConversationID()), zap.Error(err))
			} else {
				c.state = st
			}
		}
	case protocol.SchemaDialogflow:
		for _, ctx := range c.Contexts() {
			if ctx.Name != StateContextName {
				continue
			}
			if s, ok := ctx.Parameters["state"].(string); ok {
				c.state.State = s
			}
			if d, ok := ctx.Parameters["data"].(map[string]any); ok {
				c.state.Data = d
			}
			break
		}
	}
	if c.state.Data == nil {
		c.state.Data = map[string]any{}
	}
	return c
}

// Request exposes the normalized request the conversation was built from.
func (c *Conversation) Request() *protocol.Request { return c.req }

// Intent returns the intent identifier the platform resolved for this turn:
// the Dialogflow action, or the first Actions SDK input's intent. Absent
// intent is reported and returned as the empty string.
func (c *Conversation) Intent() string {
	if c.req.Schema == protocol.SchemaDialogflow {
		if a := c.req.Dialogflow.Result.Action; a != "" {
			return a
		}
		logger.Log.Error("missing result.action in request")
		return ""
	}
	if c.req.ActionsSDK != nil && len(c.req.ActionsSDK.Inputs) > 0 {
		if in := c.req.ActionsSDK.Inputs[0].Intent; in != "" {
			return in
		}
	}
	logger.Log.Error("missing intent in request inputs")
	return ""
}

// RawInput returns the unprocessed user utterance for this turn.
func (c *Conversation) RawInput() string {
	if c.req.Schema == protocol.SchemaDialogflow {
		return c.req.Dialogflow.Result.ResolvedQuery
	}
	app := c.req.ActionsSDK
	if app != nil && len(app.Inputs) > 0 && len(app.Inputs[0].RawInputs) > 0 {
		return app.Inputs[0].RawInputs[0].Query
	}
	logger.Log.Error("missing raw input in request")
	return ""
}

// Argument resolves a named slot value. For Dialogflow turns the NLU
// parameter is returned as-is. For Actions SDK turns the first input's
// argument list is scanned; a textValue is preferred as a plain string,
// otherwise the full structured argument is returned. Returns nil when the
// argument is absent.
func (c *Conversation) Argument(name string) any {
	if name == "" {
		logger.Log.Error("argument name must not be empty")
		return nil
	}
	if c.req.Schema == protocol.SchemaDialogflow {
		if v, ok := c.req.Dialogflow.Result.Parameters[name]; ok {
			return v
		}
	}
	if app := c.req.ActionsSDK; app != nil && len(app.Inputs) > 0 {
		for i := range app.Inputs[0].Arguments {
			arg := app.Inputs[0].Arguments[i]
			if arg.Name != name {
				continue
			}
			if arg.TextValue != "" {
				return arg.TextValue
			}
			return &arg
		}
	}
	logger.Log.Error("argument not found in request", zap.String("name", name))
	return nil
}

// ContextArgument looks a parameter up inside a named Dialogflow context.
// When a companion `<name>.original` parameter exists in the same context,
// it is attached as the Original field. Returns nil when either the context
// or the parameter is absent.
func (c *Conversation) ContextArgument(contextName, argName string) *protocol.Argument {
	if contextName == "" {
		logger.Log.Error("context name must not be empty")
		return nil
	}
	if argName == "" {
		logger.Log.Error("context argument name must not be empty")
		return nil
	}
	for _, ctx := range c.Contexts() {
		if ctx.Name != contextName {
			continue
		}
		v, ok := ctx.Parameters[argName]
		if !ok {
			continue
		}
		arg := &protocol.Argument{Name: argName, Value: v}
		if orig, ok := ctx.Parameters[argName+".original"].(string); ok {
			arg.Original = orig
		}
		return arg
	}
	logger.Log.Error("context argument not found in request",
		zap.String("context", contextName), zap.String("name", argName))
	return nil
}

// Contexts returns the request-level Dialogflow contexts, if any.
func (c *Conversation) Contexts() []protocol.Context {
	if c.req.Schema != protocol.SchemaDialogflow || c.req.Dialogflow == nil {
		return nil
	}
	return c.req.Dialogflow.Result.Contexts
}

// SetContext registers an outgoing Dialogflow context for this turn.
func (c *Conversation) SetContext(name string, lifespan int, parameters map[string]any) error {
	if strings.TrimSpace(name) == "" {
		return c.validationError("context name must not be empty")
	}
	if lifespan < 0 {
		return c.validationError("context lifespan must not be negative")
	}
	c.outContexts = append(c.outContexts, protocol.Context{
		Name:       name,
		Lifespan:   lifespan,
		Parameters: parameters,
	})
	return nil
}

// User returns the user descriptor, or nil when absent.
func (c *Conversation) User() *protocol.User {
	if c.req.ActionsSDK == nil || c.req.ActionsSDK.User == nil {
		logger.Log.Error("missing user in request")
		return nil
	}
	return c.req.ActionsSDK.User
}

// UserName returns the user's profile when the NAME permission was granted.
func (c *Conversation) UserName() *protocol.UserProfile {
	u := c.User()
	if u == nil || u.Profile == nil {
		return nil
	}
	return u.Profile
}

// DeviceLocation returns the device location when a location permission was
// granted, or nil.
func (c *Conversation) DeviceLocation() *protocol.Location {
	app := c.req.ActionsSDK
	if app == nil || app.Device == nil || app.Device.Location == nil {
		logger.Log.Error("missing device location in request")
		return nil
	}
	return app.Device.Location
}

func (c *Conversation) ConversationID() string {
	if c.req.Schema == protocol.SchemaDialogflow {
		if c.req.Dialogflow != nil && c.req.Dialogflow.SessionID != "" {
			return c.req.Dialogflow.SessionID
		}
	}
	if c.req.ActionsSDK != nil {
		return c.req.ActionsSDK.Conversation.ConversationID
	}
	return ""
}

func (c *Conversation) ConversationType() string {
	if c.req.ActionsSDK != nil {
		return c.req.ActionsSDK.Conversation.Type
	}
	return ""
}

// HasSurfaceCapability reports whether the requesting surface declares the
// named capability.
func (c *Conversation) HasSurfaceCapability(name string) bool {
	for _, capability := range c.SurfaceCapabilities() {
		if capability == name {
			return true
		}
	}
	return false
}

func (c *Conversation) SurfaceCapabilities() []string {
	app := c.req.ActionsSDK
	if app == nil || app.Surface == nil {
		return nil
	}
	caps := make([]string, 0, len(app.Surface.Capabilities))
	for _, capability := range app.Surface.Capabilities {
		caps = append(caps, capability.Name)
	}
	return caps
}

// State returns the active dialog state identifier.
func (c *Conversation) State() string { return c.state.State }

// SetState changes the dialog state identifier serialized with the next Ask.
func (c *Conversation) SetState(state string) { c.state.State = state }

// Data is the mutable per-conversation payload round-tripped through the
// conversation token. Mutations before Ask are persisted for the next turn.
func (c *Conversation) Data() map[string]any { return c.state.Data }

// DialogState returns the full (state, data) pair.
func (c *Conversation) DialogState() DialogState { return c.state }

// SetDialogState replaces the full (state, data) pair.
func (c *Conversation) SetDialogState(st DialogState) {
	if st.Data == nil {
		st.Data = map[string]any{}
	}
	c.state = st
}

// Responded reports whether a response has already been written for this turn.
func (c *Conversation) Responded() bool { return c.responded }

// Final reports whether the written response ended the conversation.
func (c *Conversation) Final() bool { return c.final }

// ResponseText returns the spoken text of the response written for this turn.
func (c *Conversation) ResponseText() string { return c.responseText }
