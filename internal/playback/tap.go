package playback

import "sync"

// Tap is a fixed-size ring of the most recent output samples. Writers are the
// render path; readers (the volume analyzer) only copy out.
type Tap struct {
	mu       sync.Mutex
	data     []float32
	writePos int
	filled   int
}

func NewTap(size int) *Tap {
	if size <= 0 {
		size = 2048
	}
	return &Tap{data: make([]float32, size)}
}

func (t *Tap) Write(samples []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	size := len(t.data)
	for _, s := range samples {
		t.data[t.writePos] = s
		t.writePos = (t.writePos + 1) % size
		if t.filled < size {
			t.filled++
		}
	}
}

// Latest copies the newest len(dst) samples into dst in chronological order,
// zero-padding the front when fewer have been written. It returns the number
// of real samples copied.
func (t *Tap) Latest(dst []float32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(dst)
	if n > t.filled {
		n = t.filled
	}
	pad := len(dst) - n
	for i := 0; i < pad; i++ {
		dst[i] = 0
	}
	size := len(t.data)
	start := (t.writePos - n + size) % size
	for i := 0; i < n; i++ {
		dst[pad+i] = t.data[(start+i)%size]
	}
	return n
}

func (t *Tap) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.data {
		t.data[i] = 0
	}
	t.writePos = 0
	t.filled = 0
}
