// Package transcription turns encoded audio into text through a provider
// abstraction. It ships a remote provider backed by the OpenAI transcription
// API and a local provider that spawns one whisper CLI process per job, plus
// a filter for generic filler phrases recognizers hallucinate on silence.
package transcription
