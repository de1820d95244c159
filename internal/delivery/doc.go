// Package delivery owns which data path is live: streaming push or scheduled
// pull. The controller is the only component that mutates the delivery mode.
//
// Mode transitions:
//   - First subscription while the venue is open: attempt push, fall back to
//     pull on connect failure.
//   - First subscription while the venue is closed: pull immediately.
//   - Session monitor sees the venue open while pulling: attempt push.
//   - Session monitor sees the venue close, or the channel reports a
//     disconnect/error, while pushing: tear down and switch to pull.
//   - Last subscription removed: tear down whichever path is active.
//
// Transitions that involve a connect or disconnect pass through a short-lived
// transitioning state guarded by an in-flight flag, so a second trigger
// arriving mid-transition is dropped rather than stacked. Every transition
// resolves to push-active or pull-active; a connect attempt carries its own
// timeout.
package delivery
