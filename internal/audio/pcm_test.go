package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestEncodePCM16ClampsOutOfRange(t *testing.T) {
	blob := EncodePCM16([]float32{0, 1, -1, 2.5, -3, float32(math.NaN())}, CaptureSampleRate)
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType = %q, want audio/pcm;rate=16000", blob.MIMEType)
	}
	if len(blob.Data) != 12 {
		t.Fatalf("len(Data) = %d, want 12", len(blob.Data))
	}
	want := []int16{0, 32767, -32768, 32767, -32768, 0}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(blob.Data[i*2:]))
		if got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestDecodeRoundTripsEncodedSamples(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25}
	blob := EncodePCM16(in, OutputSampleRate)
	buf, err := NewDecoder(OutputSampleRate).Decode(context.Background(), blob)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(buf.Samples) != len(in) {
		t.Fatalf("len(Samples) = %d, want %d", len(buf.Samples), len(in))
	}
	for i := range in {
		if math.Abs(float64(buf.Samples[i]-in[i])) > 1e-3 {
			t.Fatalf("sample %d = %v, want ~%v", i, buf.Samples[i], in[i])
		}
	}
}

func TestDecodeDuration(t *testing.T) {
	blob := Blob{Data: make([]byte, OutputSampleRate*2/2)} // 0.5s of silence
	buf, err := NewDecoder(OutputSampleRate).Decode(context.Background(), blob)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if buf.Duration() != 500*time.Millisecond {
		t.Fatalf("Duration() = %v, want 500ms", buf.Duration())
	}
}

func TestDecodeRejectsMalformedChunks(t *testing.T) {
	d := NewDecoder(OutputSampleRate)
	cases := []struct {
		name string
		blob Blob
	}{
		{"empty", Blob{}},
		{"odd", Blob{Data: []byte{1, 2, 3}}},
		{"wrong rate", Blob{Data: []byte{0, 0}, MIMEType: "audio/pcm;rate=16000"}},
		{"not pcm", Blob{Data: []byte{0, 0}, MIMEType: "audio/mpeg"}},
	}
	for _, tc := range cases {
		_, err := d.Decode(context.Background(), tc.blob)
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			t.Fatalf("%s: error = %v, want *DecodeError", tc.name, err)
		}
	}
}

func TestDecodeBase64(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0, 0x40, 0, 0xC0})
	buf, err := NewDecoder(OutputSampleRate).DecodeBase64(context.Background(), payload, "audio/pcm;rate=24000")
	if err != nil {
		t.Fatalf("DecodeBase64() error = %v", err)
	}
	if buf.Samples[0] != 0.5 || buf.Samples[1] != -0.5 {
		t.Fatalf("Samples = %v, want [0.5 -0.5]", buf.Samples)
	}
	if _, err := NewDecoder(OutputSampleRate).DecodeBase64(context.Background(), "%%%", ""); err == nil {
		t.Fatalf("DecodeBase64(invalid) error = nil, want error")
	}
}

func TestWriteWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, []float32{0, 0.1, -0.1}, 24000); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}
	b := buf.Bytes()
	if len(b) != 44+6 {
		t.Fatalf("len = %d, want 50", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[36:40]) != "data" {
		t.Fatalf("unexpected header %q", b[:44])
	}
	if rate := binary.LittleEndian.Uint32(b[24:28]); rate != 24000 {
		t.Fatalf("sample rate = %d, want 24000", rate)
	}
}

func TestRecorderFlush(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, "model", OutputSampleRate)
	if path, err := r.Flush("s1"); err != nil || path != "" {
		t.Fatalf("empty Flush() = %q, %v; want \"\", nil", path, err)
	}
	r.Append([]float32{0.1, 0.2})
	path, err := r.Flush("s1")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if path == "" {
		t.Fatalf("Flush() path empty")
	}

	var nilRec *Recorder
	nilRec.Append([]float32{1})
	if p, err := nilRec.Flush("x"); p != "" || err != nil {
		t.Fatalf("nil recorder Flush() = %q, %v", p, err)
	}
}
