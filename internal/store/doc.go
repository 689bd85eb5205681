// Package store persists per-room transcript sessions as JSON documents.
// Each mutation rewrites the whole session file, so the file on disk is
// always a complete, consistent snapshot.
package store
