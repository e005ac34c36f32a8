// Package voicesafe is the embeddable voice-safety SDK. A host constructs
// an SDK with a recording permission predicate and a telemetry provider,
// calls Tick once per frame, and reports focus changes. The SDK samples the
// microphone on the duty cycle set by the remote policy, uploads non-silent
// windows for moderation, forwards enforcement actions to the host, and keeps
// a player session open on the backend while the host has focus.
package voicesafe
