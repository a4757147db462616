// Package notify renders inbound push payloads and routes user interaction
// back into the application.
package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/dgduncan/go-offline-cache/caches"
)

// Action is one button offered on a displayed notification.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Payload is the structured form of a push message. It is ephemeral: it
// exists for the duration of display and a single follow-up action dispatch.
type Payload struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Actions []Action        `json:"actions,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NavigationIntent names the application route an action opens.
type NavigationIntent struct {
	Route string
}

// Presenter renders a notification to the user. It is supplied by the host
// environment.
type Presenter interface {
	Show(ctx context.Context, p Payload) error
}

// Parse decodes a raw push payload. A payload that fails to parse, or that
// is missing title or body, falls back to the defaults rather than failing
// silently.
func Parse(raw []byte, defaults Payload) Payload {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return defaults
	}

	if p.Title == "" {
		p.Title = defaults.Title
	}
	if p.Body == "" {
		p.Body = defaults.Body
	}

	return p
}

// DefaultRoutes maps the stock action ids to application routes. "close" is
// intentionally absent: dismissal has no further effect.
func DefaultRoutes() map[string]string {
	return map[string]string{
		"explore": "/app/overview",
	}
}

// Dispatcher displays notifications and maps action ids to application
// routes.
type Dispatcher struct {
	presenter Presenter
	defaults  Payload
	routes    map[string]string
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Routes maps action ids to application
// routes; ids absent from the map dismiss with no further effect.
func NewDispatcher(presenter Presenter, defaults Payload, routes map[string]string, logger *slog.Logger) (*Dispatcher, error) {
	if presenter == nil {
		return nil, caches.ValidationError{Reason: "nil presenter"}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Dispatcher{
		presenter: presenter,
		defaults:  defaults,
		routes:    routes,
		logger:    logger,
	}, nil
}

// Display parses raw and renders it. Unparseable payloads render the
// defaults.
func (d *Dispatcher) Display(ctx context.Context, raw []byte) error {
	p := Parse(raw, d.defaults)
	return d.presenter.Show(ctx, p)
}

// HandleAction maps a known action id to the route to open. Unknown ids,
// including the implicit dismiss, return false and have no further effect.
func (d *Dispatcher) HandleAction(actionID string, _ Payload) (NavigationIntent, bool) {
	route, ok := d.routes[actionID]
	if !ok || route == "" {
		d.logger.Debug("dismissing notification", "action", actionID)
		return NavigationIntent{}, false
	}

	return NavigationIntent{Route: route}, true
}
