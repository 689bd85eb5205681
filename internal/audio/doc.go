// Package audio handles PCM sample conversion and WAV container encoding.
// It converts between interleaved 16-bit little-endian byte streams and int16
// samples, and builds canonical WAV files for transcription providers.
package audio
