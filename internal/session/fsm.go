package session

import (
	"strings"
	"time"

	"github.com/antoniostano/salut/internal/live"
	"github.com/antoniostano/salut/internal/observability"
	"github.com/antoniostano/salut/internal/reliability"
	"github.com/antoniostano/salut/internal/transcript"
)

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evSendText
	evRetryDue
	evInactivityCheck

	// Session-scoped events carry the epoch of the attempt that produced them.
	evAcquired
	evAcquireFailed
	evOpen
	evMessage
	evTransportError
	evRemoteClose
	evConnectTimeout
	evDrained
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evStop:
		return "stop"
	case evSendText:
		return "send_text"
	case evRetryDue:
		return "retry_due"
	case evInactivityCheck:
		return "inactivity_check"
	case evAcquired:
		return "acquired"
	case evAcquireFailed:
		return "acquire_failed"
	case evOpen:
		return "open"
	case evMessage:
		return "message"
	case evTransportError:
		return "transport_error"
	case evRemoteClose:
		return "remote_close"
	case evConnectTimeout:
		return "connect_timeout"
	case evDrained:
		return "drained"
	default:
		return "unknown"
	}
}

type event struct {
	kind  eventKind
	epoch uint64
	msg   live.Message
	err   error
	text  string
	res   *resources
	reply chan error
}

// transition is the single entry point for lifecycle changes. It runs on the
// loop goroutine only.
func (c *Controller) transition(ev event) {
	switch ev.kind {
	case evStart:
		ev.reply <- c.handleStart()
		return
	case evStop:
		ev.reply <- c.handleStop(ev.text)
		return
	case evSendText:
		ev.reply <- c.handleSendText(ev.text)
		return
	case evRetryDue:
		c.handleRetryDue(ev.epoch)
		return
	case evInactivityCheck:
		c.checkInactivity()
		return
	}

	sess := c.cur
	if sess == nil || ev.epoch != c.epoch || sess.epoch != ev.epoch {
		c.logger.Debug().Str("event", ev.kind.String()).Uint64("epoch", ev.epoch).Msg("stale event ignored")
		if ev.res != nil {
			c.releaseOrphan(ev.res)
		}
		return
	}

	switch ev.kind {
	case evAcquired:
		sess.attach(ev.res)
		c.tap.set(sess.mixer.Tap())
	case evAcquireFailed:
		sess.attach(ev.res)
		c.fail(ev.err)
	case evOpen:
		c.handleOpen(sess)
	case evMessage:
		if c.state != StateConnected {
			return
		}
		c.touch()
		c.handleMessage(sess, ev.msg)
	case evTransportError:
		c.fail(ev.err)
	case evRemoteClose:
		switch c.state {
		case StateConnected:
			c.logger.Info().Str("session_id", c.sessionID).Msg("remote closed session")
			c.endSession(true)
			c.setState(StateIdle)
		case StateConnecting:
			c.fail(&reliability.TransportError{Op: "open", Err: ErrClosedBeforeOpen})
		}
	case evConnectTimeout:
		if c.state == StateConnecting {
			c.fail(&reliability.TransportError{Op: "connect", Err: ErrConnectTimeout})
		}
	case evDrained:
		// A buffer enqueued after the hook fired is still playing.
		if sess.scheduler != nil && sess.scheduler.Active() > 0 {
			return
		}
		c.setSpeaking(false)
		c.metrics.PlaybackQueueDepth.Set(0)
	}
}

func (c *Controller) handleStart() error {
	if c.cur != nil || c.retryPending {
		c.logger.Info().Str("session_id", c.sessionID).Msg("restarting: tearing down active session")
		c.cancelRetry()
		c.endSession(c.state == StateConnected)
	}
	c.retryCount = 0
	c.lastErr = ""
	c.sessionID = newSessionID()
	c.startedAt = c.now().UTC()
	c.agg.Clear()
	c.metrics.SessionEvents.WithLabelValues("start").Inc()
	c.logger.Info().Str("session_id", c.sessionID).Str("transport", c.connector.Name()).Msg("session start")
	c.beginAttempt()
	return nil
}

func (c *Controller) handleStop(reason string) error {
	switch {
	case c.retryPending:
		c.cancelRetry()
		c.endSession(false)
	case c.state == StateConnected:
		c.endSession(true)
	case c.state == StateConnecting:
		c.endSession(false)
	case c.state == StateError:
		c.lastErr = ""
	default:
		return nil
	}
	c.metrics.SessionEvents.WithLabelValues("stop").Inc()
	c.logger.Info().Str("session_id", c.sessionID).Str("reason", reason).Msg("session stopped")
	c.setState(StateIdle)
	return nil
}

func (c *Controller) handleSendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if c.state != StateConnected || c.cur == nil || c.cur.conn == nil {
		return ErrNotConnected
	}
	if err := c.cur.conn.SendRealtimeInput(c.cur.ctx, live.Input{Text: text}); err != nil {
		return err
	}
	c.metrics.TransportMessages.WithLabelValues("outbound", "text").Inc()
	c.agg.Append(transcript.RoleUser, text)
	c.markTurnInput()
	c.touch()
	return nil
}

func (c *Controller) handleOpen(sess *activeSession) {
	if c.state != StateConnecting || sess.conn == nil {
		return
	}
	sess.stopConnectTimer()
	now := c.now()
	sess.openedAt = now
	c.retryCount = 0
	c.touch()
	c.metrics.SessionEvents.WithLabelValues("open").Inc()
	c.metrics.Latency.Observe(observability.StageConnect, now.Sub(sess.attemptStarted))
	c.logger.Info().Str("session_id", c.sessionID).Uint64("epoch", sess.epoch).Msg("session connected")
	c.startPump(sess)
	c.setState(StateConnected)
}

func (c *Controller) handleMessage(sess *activeSession, msg live.Message) {
	c.metrics.TransportMessages.WithLabelValues("inbound", messageType(msg)).Inc()

	if msg.Interrupted {
		stopped := sess.scheduler.Interrupt()
		c.setSpeaking(false)
		c.metrics.PlaybackQueueDepth.Set(0)
		c.metrics.Latency.Count(observability.CountInterrupted)
		c.logger.Debug().Int("stopped", stopped).Msg("playback interrupted")
	}

	if c.turnBegin.IsZero() && (len(msg.Audio) > 0 || msg.InputTranscript != "" || msg.OutputTranscript != "") {
		c.turnBegin = c.now()
	}

	for _, blob := range msg.Audio {
		buf, err := c.decoder.Decode(sess.ctx, blob)
		if err != nil {
			c.metrics.DecodeErrors.Inc()
			c.metrics.Latency.Count(observability.CountDecodeDropped)
			c.logger.Warn().Err(err).Int("bytes", len(blob.Data)).Msg("dropping audio chunk")
			continue
		}
		now := c.now()
		if !sess.firstAudio {
			sess.firstAudio = true
			c.metrics.ObserveFirstAudioLatency(now.Sub(sess.openedAt))
		}
		if !c.turnAwaiting.IsZero() {
			c.metrics.Latency.Observe(observability.StageTurnAudio, now.Sub(c.turnAwaiting))
			c.turnAwaiting = time.Time{}
		}
		sess.outRec.Append(buf.Samples)
		sess.scheduler.Enqueue(buf)
		c.setSpeaking(true)
	}
	if len(msg.Audio) > 0 {
		c.metrics.PlaybackQueueDepth.Set(float64(sess.scheduler.Active()))
	}

	if msg.InputTranscript != "" {
		c.agg.Append(transcript.RoleUser, msg.InputTranscript)
		c.markTurnInput()
	}
	if msg.OutputTranscript != "" {
		c.agg.Append(transcript.RoleModel, msg.OutputTranscript)
	}
	if msg.TurnComplete {
		c.commitTurn()
	}
}

func (c *Controller) markTurnInput() {
	if c.turnAwaiting.IsZero() {
		c.turnAwaiting = c.now()
	}
}

func (c *Controller) commitTurn() {
	now := c.now()
	if !c.turnBegin.IsZero() {
		c.metrics.Latency.Observe(observability.StageTurnTotal, now.Sub(c.turnBegin))
	}
	c.turnBegin = time.Time{}
	items := c.agg.Commit(now)
	for _, it := range items {
		c.broadcast(Event{Type: EventTranscript, Item: it})
	}
	c.persistItems(items)
}

// fail tears the attempt down without counting progress and either schedules
// a retry or enters Error.
func (c *Controller) fail(err error) {
	kind := reliability.Classify(err)
	c.logger.Warn().Err(err).Str("kind", string(kind)).Int("retry", c.retryCount).Str("session_id", c.sessionID).Msg("session attempt failed")
	c.endSession(false)

	if c.retryCount < c.opts.MaxRetries && reliability.Retryable(err) {
		c.retryCount++
		delay := c.opts.Backoff.Delay(c.retryCount)
		if kind == reliability.KindAcquisition {
			delay = c.opts.AcquireRetryDelay
		}
		token := c.epoch
		c.retryPending = true
		c.retryTimer = time.AfterFunc(delay, func() {
			c.post(event{kind: evRetryDue, epoch: token})
		})
		c.metrics.Retries.WithLabelValues(string(kind)).Inc()
		c.metrics.Latency.Count(observability.CountRetry)
		c.logger.Info().Int("attempt", c.retryCount).Dur("delay", delay).Msg("retry scheduled")
		c.setState(StateConnecting)
		return
	}

	c.lastErr = reliability.UserMessage(err)
	c.metrics.SessionEvents.WithLabelValues("error").Inc()
	c.setState(StateError)
	c.broadcast(Event{Type: EventError, Error: c.lastErr})
}

func (c *Controller) handleRetryDue(token uint64) {
	if !c.retryPending || token != c.epoch {
		return
	}
	c.retryPending = false
	c.retryTimer = nil
	c.beginAttempt()
}

// cancelRetry drops a scheduled retry. Bumping the epoch makes a timer that
// already fired a no-op.
func (c *Controller) cancelRetry() {
	if !c.retryPending {
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryPending = false
	c.epoch++
}

func (c *Controller) checkInactivity() {
	if c.state != StateConnected || c.opts.InactivityTimeout <= 0 {
		return
	}
	last := time.Unix(0, c.lastActivity.Load())
	if c.now().Sub(last) < c.opts.InactivityTimeout {
		return
	}
	c.logger.Info().Dur("idle", c.now().Sub(last)).Msg("session inactive")
	_ = c.handleStop("inactivity")
}

func watchdogInterval(timeout time.Duration) time.Duration {
	interval := timeout / 10
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}
	return interval
}

func messageType(m live.Message) string {
	switch {
	case m.Interrupted:
		return "interrupted"
	case len(m.Audio) > 0:
		return "audio"
	case m.TurnComplete:
		return "turn_complete"
	case m.InputTranscript != "" || m.OutputTranscript != "":
		return "transcription"
	default:
		return "other"
	}
}
