package sync

import (
	"context"

	"github.com/dgnsrekt/mapsync/internal/view"
)

// Condition is a programmatic view request issued by the surrounding task,
// e.g. at the start of a trial. Both fields are optional.
type Condition struct {
	Center *view.LatLng
	Zoom   *int
}

// An extension is any value passed as Options.Extension. The engine checks it
// for the optional capabilities below and calls them after its own handling.

// Initializer runs once after the engine has been wired.
type Initializer interface {
	Initialize(ctx context.Context, e *Engine) error
}

// Renderer replaces the default handling of Render.
type Renderer interface {
	Render(c Condition, adapter ViewAdapter)
}

// EventHandler observes every event passed to HandleEvent, synchronization
// events included.
type EventHandler interface {
	HandleEvent(eventType string, payload []byte, adapter ViewAdapter)
}
