// Package vad provides energy-based voice activity detection over PCM segments.
// It computes the mean absolute amplitude of 16-bit samples and accepts a
// segment only when the energy exceeds a configurable threshold.
package vad
