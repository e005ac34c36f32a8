// Package policy holds the remotely tunable recording parameters: sampling
// rate and the intermission derived from it, silence threshold, pause budget
// and session pulse interval. Parameter sets are swapped atomically.
package policy
