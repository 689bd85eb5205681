// Package pipeline serializes transcription work through a bounded queue.
// The queue drops its oldest job on overflow, and exactly one worker drains
// it, so at most one transcription is in flight process-wide.
package pipeline
