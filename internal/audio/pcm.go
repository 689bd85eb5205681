package audio

import "fmt"

// BytesToSamples converts interleaved 16-bit little-endian PCM bytes to int16 samples
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (got %d bytes)", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}

	return samples, nil
}

// SamplesToBytes converts int16 samples to interleaved 16-bit little-endian PCM bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(uint16(s) >> 8)
	}

	return data
}

// Duration returns the duration in seconds of an interleaved sample buffer
func Duration(sampleCount, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(sampleCount) / float64(sampleRate*channels)
}
