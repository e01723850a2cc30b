// Package sync keeps independently rendered map endpoints on the same view.
//
// An Engine sits between a ViewAdapter (the map widget binding) and an event bus.
// Local movements that the GestureTracker attributes to the user are throttled by
// the ChangeEmitter and published; inbound view events are applied by the
// ChangeApplier while the SyncLock is held, so the movement they cause is never
// mistaken for a new user gesture and echoed back onto the bus.
package sync
