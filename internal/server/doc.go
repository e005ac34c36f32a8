// Package server provides the local HTTP status endpoints of an embedded SDK
// instance: health, recorder state, sanitized configuration, client and
// presence statistics, and Prometheus metrics.
package server
