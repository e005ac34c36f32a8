// Package moderation implements the HTTP client for the voice moderation
// backend. It uploads encoded windows as multipart form data, fetches the
// remote policy, and wraps the player presence, report and status endpoints.
// Failed requests are reported to the caller and never retried.
package moderation
