package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WriteWAV writes mono float samples as a 16-bit PCM WAV stream.
func WriteWAV(out io.Writer, samples []float32, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}

	pcm := EncodePCM16(samples, sampleRate).Data
	dataSize := uint32(len(pcm))

	w := bufio.NewWriter(out)
	header := []any{
		[]byte("RIFF"), uint32(36) + dataSize, []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(audioFormat), uint16(numChannels),
		uint32(sampleRate), uint32(sampleRate * numChannels * bitsPerSample / 8),
		uint16(numChannels * bitsPerSample / 8), uint16(bitsPerSample),
		[]byte("data"), dataSize,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// Recorder keeps a copy of one direction of session audio and writes it as a
// WAV file when the session ends. A nil *Recorder is a no-op.
type Recorder struct {
	mu         sync.Mutex
	dir        string
	label      string
	sampleRate int
	samples    []float32
}

func NewRecorder(dir, label string, sampleRate int) *Recorder {
	if dir == "" {
		return nil
	}
	return &Recorder{dir: dir, label: label, sampleRate: sampleRate}
}

func (r *Recorder) Append(samples []float32) {
	if r == nil || len(samples) == 0 {
		return
	}
	r.mu.Lock()
	r.samples = append(r.samples, samples...)
	r.mu.Unlock()
}

// Flush writes the recorded audio to <dir>/<sessionID>-<label>.wav and resets
// the recorder. It returns the written path, or "" when nothing was recorded.
func (r *Recorder) Flush(sessionID string) (string, error) {
	if r == nil {
		return "", nil
	}
	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()
	if len(samples) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create record dir: %w", err)
	}
	if sessionID == "" {
		sessionID = time.Now().UTC().Format("20060102T150405")
	}
	path := filepath.Join(r.dir, sessionID+"-"+r.label+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := WriteWAV(f, samples, r.sampleRate); err != nil {
		return "", err
	}
	return path, nil
}
