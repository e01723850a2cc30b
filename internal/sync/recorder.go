package sync

// Suppression and drop reasons reported to a Recorder.
const (
	ReasonSyncOngoing = "sync_ongoing"
	ReasonNoGesture   = "no_gesture"
	ReasonDebounced   = "debounced"
	ReasonUserGesture = "user_gesture"
	ReasonMalformed   = "malformed"
	ReasonOwnOrigin   = "own_origin"
	ReasonDuplicate   = "duplicate"
	ReasonPublish     = "publish_failed"
)

// Recorder receives the engine's emission and application decisions.
type Recorder interface {
	Emitted(kind MovementKind)
	Suppressed(reason string)
	Applied(shape string)
	Dropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) Emitted(MovementKind) {}
func (nopRecorder) Suppressed(string)    {}
func (nopRecorder) Applied(string)       {}
func (nopRecorder) Dropped(string)       {}
