package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// CaptureSampleRate is the microphone rate expected by the transport.
	CaptureSampleRate = 16000
	// OutputSampleRate is the rate of synthesized speech from the transport.
	OutputSampleRate = 24000
)

// Blob is an encoded payload plus its MIME tag, ready for the transport.
type Blob struct {
	Data     []byte
	MIMEType string
}

// PCMMIMEType returns the MIME tag for raw 16-bit PCM at sampleRate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// EncodePCM16 converts float samples in [-1, 1] to little-endian signed 16-bit
// PCM. Out-of-range samples are clamped; NaN encodes as silence.
func EncodePCM16(samples []float32, sampleRate int) Blob {
	if sampleRate <= 0 {
		sampleRate = CaptureSampleRate
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToPCM16(s)))
	}
	return Blob{Data: out, MIMEType: PCMMIMEType(sampleRate)}
}

func floatToPCM16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7FFF)
}
