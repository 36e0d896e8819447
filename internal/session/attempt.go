package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antoniostano/salut/internal/audio"
	"github.com/antoniostano/salut/internal/device"
	"github.com/antoniostano/salut/internal/live"
	"github.com/antoniostano/salut/internal/playback"
	"github.com/antoniostano/salut/internal/reliability"
)

// activeSession holds the resources of one connect attempt. Fields are set by
// the loop goroutine only.
type activeSession struct {
	epoch  uint64
	label  string
	ctx    context.Context
	cancel context.CancelFunc

	// done closes at teardown; ready closes once acquisition has reported.
	done     chan struct{}
	doneOnce sync.Once
	ready    chan struct{}

	connectTimer   *time.Timer
	attemptStarted time.Time
	openedAt       time.Time
	firstAudio     bool

	mixer     *playback.Mixer
	scheduler *playback.Scheduler
	speaker   device.Speaker
	mic       device.Microphone
	conn      live.Conn
	inRec     *audio.Recorder
	outRec    *audio.Recorder

	pumpStop chan struct{}
	pumpDone chan struct{}
}

// resources is what the acquisition goroutine hands back to the loop.
type resources struct {
	mixer     *playback.Mixer
	scheduler *playback.Scheduler
	speaker   device.Speaker
	mic       device.Microphone
	conn      live.Conn
	inRec     *audio.Recorder
	outRec    *audio.Recorder
}

func (s *activeSession) attach(r *resources) {
	if r == nil {
		return
	}
	s.mixer = r.mixer
	s.scheduler = r.scheduler
	s.speaker = r.speaker
	s.mic = r.mic
	s.conn = r.conn
	s.inRec = r.inRec
	s.outRec = r.outRec
}

func (s *activeSession) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *activeSession) stopConnectTimer() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

func (c *Controller) beginAttempt() {
	c.epoch++
	ctx, cancel := context.WithCancel(context.Background())
	sess := &activeSession{
		epoch:          c.epoch,
		label:          fmt.Sprintf("%s-%d", c.sessionID, c.epoch),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		ready:          make(chan struct{}),
		attemptStarted: c.now(),
	}
	c.cur = sess
	c.metrics.ActiveSessions.Set(1)
	if c.opts.ConnectTimeout > 0 {
		sess.connectTimer = time.AfterFunc(c.opts.ConnectTimeout, func() {
			c.postSession(sess, event{kind: evConnectTimeout, epoch: sess.epoch})
		})
	}
	c.setState(StateConnecting)
	go c.acquire(sess)
}

// acquire opens the output path, the microphone and the transport. It runs off
// the loop; results come back as evAcquired or evAcquireFailed.
func (c *Controller) acquire(sess *activeSession) {
	defer close(sess.ready)

	tapSize := 2048
	if c.opts.FFTSize > tapSize {
		tapSize = c.opts.FFTSize
	}
	res := &resources{
		mixer:  playback.NewMixer(playback.MixerConfig{SampleRate: audio.OutputSampleRate, Gain: c.opts.OutputGain, TapSize: tapSize}),
		inRec:  audio.NewRecorder(c.opts.RecordDir, "input", audio.CaptureSampleRate),
		outRec: audio.NewRecorder(c.opts.RecordDir, "output", audio.OutputSampleRate),
	}
	res.scheduler = playback.NewScheduler(res.mixer, c.opts.LeadIn)
	res.scheduler.SetDrainedHook(func() {
		c.postSession(sess, event{kind: evDrained, epoch: sess.epoch})
	})

	report := func(ev event) {
		ev.epoch = sess.epoch
		ev.res = res
		if !c.postSession(sess, ev) {
			c.releaseOrphan(res)
		}
	}

	speaker, err := c.devices.OpenSpeaker(sess.ctx, audio.OutputSampleRate, c.opts.OutputFrames, res.mixer.Render)
	if err != nil {
		report(event{kind: evAcquireFailed, err: asAcquisition("speaker", err)})
		return
	}
	res.speaker = speaker

	mic, err := c.devices.OpenMicrophone(sess.ctx, audio.CaptureSampleRate, c.opts.CaptureFrames)
	if err != nil {
		report(event{kind: evAcquireFailed, err: asAcquisition("microphone", err)})
		return
	}
	res.mic = mic

	cfg := live.SessionConfig{
		Voice:             c.opts.Voice,
		SystemInstruction: c.loadInstruction(sess.ctx),
		TranscribeInput:   true,
		TranscribeOutput:  true,
	}
	conn, err := c.connector.Connect(sess.ctx, c.opts.Model, cfg, c.callbacks(sess))
	if err != nil {
		report(event{kind: evAcquireFailed, err: asTransport("connect", err)})
		return
	}
	res.conn = conn
	report(event{kind: evAcquired})
}

// callbacks adapts transport events into loop events. Delivery waits until
// acquisition has reported so the loop always sees evAcquired first.
func (c *Controller) callbacks(sess *activeSession) live.Callbacks {
	deliver := func(ev event) {
		select {
		case <-sess.ready:
		case <-sess.done:
			return
		}
		ev.epoch = sess.epoch
		c.postSession(sess, ev)
	}
	return live.Callbacks{
		OnOpen: func() { deliver(event{kind: evOpen}) },
		OnMessage: func(m live.Message) {
			deliver(event{kind: evMessage, msg: m})
		},
		OnError: func(err error) {
			deliver(event{kind: evTransportError, err: asTransport("receive", err)})
		},
		OnClose: func() { deliver(event{kind: evRemoteClose}) },
	}
}

func (c *Controller) startPump(sess *activeSession) {
	if sess.mic == nil || sess.conn == nil {
		return
	}
	sess.pumpStop = make(chan struct{})
	sess.pumpDone = make(chan struct{})
	go c.pump(sess, sess.mic, sess.conn, sess.inRec, sess.pumpStop, sess.pumpDone)
}

// pump encodes captured frames and sends them in capture order.
func (c *Controller) pump(sess *activeSession, mic device.Microphone, conn live.Conn, rec *audio.Recorder, stop, done chan struct{}) {
	defer close(done)
	frames := mic.Frames()
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			rec.Append(frame)
			blob := audio.EncodePCM16(frame, audio.CaptureSampleRate)
			if err := conn.SendRealtimeInput(sess.ctx, live.Input{Audio: &blob}); err != nil {
				if errors.Is(err, live.ErrClosed) || sess.ctx.Err() != nil {
					return
				}
				c.postSession(sess, event{kind: evTransportError, epoch: sess.epoch, err: asTransport("send", err)})
				return
			}
			c.metrics.TransportMessages.WithLabelValues("outbound", "audio").Inc()
		}
	}
}

func asAcquisition(dev string, err error) error {
	var acq *reliability.AcquisitionError
	if errors.As(err, &acq) {
		return err
	}
	return &reliability.AcquisitionError{Device: dev, Err: err}
}

func asTransport(op string, err error) error {
	var tr *reliability.TransportError
	if errors.As(err, &tr) {
		return err
	}
	return &reliability.TransportError{Op: op, Err: err}
}
