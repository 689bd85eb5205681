// Package room tracks peers, buffers their audio, and ties transcript
// sessions to room occupancy. Each peer is served by its own goroutine fed
// from a bounded event channel.
package room
