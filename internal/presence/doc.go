// Package presence reports player sessions to the moderation backend based
// on the host application's focus.
package presence
