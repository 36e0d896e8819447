package audio

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Buffer is a block of decoded mono output samples.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration is the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || len(b.Samples) == 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// DecodeError reports an inbound chunk that could not be turned into samples.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode audio chunk: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode audio chunk: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns inbound PCM16LE chunks into float buffers at a fixed rate.
type Decoder struct {
	sampleRate int
}

func NewDecoder(sampleRate int) *Decoder {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	return &Decoder{sampleRate: sampleRate}
}

func (d *Decoder) SampleRate() int { return d.sampleRate }

// Decode converts one chunk. A zero MIME type is treated as raw PCM at the
// decoder's rate.
func (d *Decoder) Decode(ctx context.Context, chunk Blob) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return Buffer{}, err
	}
	if len(chunk.Data) == 0 {
		return Buffer{}, &DecodeError{Reason: "empty chunk"}
	}
	if len(chunk.Data)%2 != 0 {
		return Buffer{}, &DecodeError{Reason: fmt.Sprintf("odd byte length %d", len(chunk.Data))}
	}
	if mt := strings.TrimSpace(chunk.MIMEType); mt != "" {
		rate, err := parsePCMRate(mt)
		if err != nil {
			return Buffer{}, &DecodeError{Reason: "unsupported mime type " + mt, Err: err}
		}
		if rate != 0 && rate != d.sampleRate {
			return Buffer{}, &DecodeError{Reason: fmt.Sprintf("sample rate %d, want %d", rate, d.sampleRate)}
		}
	}

	n := len(chunk.Data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(chunk.Data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return Buffer{Samples: samples, SampleRate: d.sampleRate}, nil
}

// DecodeBase64 decodes a base64-carried chunk.
func (d *Decoder) DecodeBase64(ctx context.Context, payload, mimeType string) (Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return Buffer{}, &DecodeError{Reason: "invalid base64", Err: err}
	}
	return d.Decode(ctx, Blob{Data: raw, MIMEType: mimeType})
}

// parsePCMRate accepts "audio/pcm" and "audio/pcm;rate=N" (also "audio/l16").
func parsePCMRate(mimeType string) (int, error) {
	parts := strings.Split(mimeType, ";")
	base := strings.ToLower(strings.TrimSpace(parts[0]))
	if base != "audio/pcm" && base != "audio/l16" {
		return 0, fmt.Errorf("not pcm")
	}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rate") {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || rate <= 0 {
			return 0, fmt.Errorf("invalid rate %q", v)
		}
		return rate, nil
	}
	return 0, nil
}
