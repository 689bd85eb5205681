// Package publish mirrors accepted transcripts to Redis pub/sub channels so
// consumers outside this process can follow a room's captions live.
package publish
