// Package fakebackend is an in-memory moderation backend speaking the same
// HTTP contract as the production service. It backs local runs of the demo
// host and end-to-end tests.
package fakebackend
