package webhook

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/voxhook/voxhook/internal/logger"
)

// Handler is developer code for one turn. A non-nil error is terminal for
// the turn: its message is spoken back (or the generic fallback when empty)
// as a normal conversation-ending response.
type Handler func(ctx context.Context, c *Conversation) error

// ErrNoIntent marks a turn whose intent could not be resolved.
var ErrNoIntent = errors.New("request has no resolvable intent")

// ErrNoMatch marks a turn no table entry matched.
var ErrNoMatch = errors.New("no matching intent handler")

type routeKind int

const (
	intentRoute routeKind = iota
	stateRoute
)

// Route is one entry of a handler table: either an intent binding or a
// state-scoped sub-table. The two kinds are distinct constructors so a
// table cannot hold an ambiguous entry.
type Route struct {
	kind     routeKind
	key      string
	handler  Handler
	children []Route
}

// Intent binds a handler to an intent identifier.
func Intent(name string, h Handler) Route {
	return Route{kind: intentRoute, key: name, handler: h}
}

// State scopes a sub-table to turns whose active dialog state equals name.
// Only intent routes are honored inside a sub-table; nesting goes one level
// deep.
func State(name string, routes ...Route) Route {
	return Route{kind: stateRoute, key: name, children: routes}
}

// NoState scopes a sub-table to turns with no active dialog state.
func NoState(routes ...Route) Route {
	return State("", routes...)
}

// Dispatcher routes one inbound turn to developer code and owns the error
// path: whatever happens, exactly one response goes out.
type Dispatcher struct {
	single Handler
	routes []Route
}

// HandleFunc dispatches every turn to a single handler.
func HandleFunc(h Handler) *Dispatcher {
	return &Dispatcher{single: h}
}

// Handle dispatches by walking the given routes in order; the first
// structural match wins and there is no backtracking out of a sub-table.
func Handle(routes ...Route) *Dispatcher {
	return &Dispatcher{routes: routes}
}

// Dispatch resolves the turn's intent against the table, invokes exactly one
// handler, and converts any failure into the spoken error response. The
// returned error reports the turn's disposition for logging and metrics; the
// HTTP response has been written in every case.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Conversation) error {
	if d.single != nil {
		return d.invoke(ctx, c, d.single)
	}

	intent := c.Intent()
	if intent == "" {
		c.tellError("")
		return ErrNoIntent
	}

	for _, r := range d.routes {
		switch r.kind {
		case stateRoute:
			if r.key != c.State() {
				continue
			}
			// Sub-table entered: resolve here or fail here.
			for _, sub := range r.children {
				if sub.kind == intentRoute && sub.key == intent {
					return d.invoke(ctx, c, sub.handler)
				}
			}
			return d.noMatch(c, intent)
		case intentRoute:
			if r.key == intent {
				return d.invoke(ctx, c, r.handler)
			}
		}
	}
	return d.noMatch(c, intent)
}

func (d *Dispatcher) invoke(ctx context.Context, c *Conversation, h Handler) error {
	if err := h(ctx, c); err != nil {
		logger.Log.Error("intent handler failed",
			zap.String("intent", c.Intent()), zap.Error(err))
		c.tellError(err.Error())
		return err
	}
	return nil
}

func (d *Dispatcher) noMatch(c *Conversation, intent string) error {
	err := fmt.Errorf("%w for %s", ErrNoMatch, intent)
	logger.Log.Error("dispatch failed", zap.Error(err))
	c.tellError("")
	return err
}
