// Package level measures peak and RMS levels of recording windows and tracks
// how often windows are classified as silent.
package level
