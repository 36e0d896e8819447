package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/antoniostano/salut/internal/reliability"
)

const pumpExitTimeout = 2 * time.Second

type releaseStep struct {
	name string
	fn   func() error
}

// endSession releases the current attempt. Progress is committed only when
// commit is set and the session had reached Connected.
func (c *Controller) endSession(commit bool) {
	wasConnected := c.state == StateConnected
	if commit && wasConnected {
		c.commitTurn()
	}
	if sess := c.cur; sess != nil {
		c.cur = nil
		report := c.teardown(sess, true)
		c.mu.Lock()
		c.lastReport = report
		c.mu.Unlock()
	}
	c.epoch++
	c.agg.Discard()
	c.turnBegin = time.Time{}
	c.turnAwaiting = time.Time{}
	c.metrics.ActiveSessions.Set(0)

	if commit && wasConnected && c.opts.ProgressEnabled {
		c.commitProgress()
	}
}

// releaseOrphan frees resources acquired for an attempt that is no longer
// current.
func (c *Controller) releaseOrphan(res *resources) {
	sess := &activeSession{done: make(chan struct{})}
	sess.attach(res)
	c.teardown(sess, false)
}

// teardown runs every release step in order. A failing or panicking step is
// logged and never prevents the remaining steps.
func (c *Controller) teardown(sess *activeSession, resetShared bool) TeardownReport {
	sess.closeDone()
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.stopConnectTimer()

	steps := []releaseStep{
		{name: "close_transport", fn: func() error {
			if sess.conn == nil {
				return nil
			}
			return sess.conn.Close()
		}},
		{name: "stop_microphone", fn: func() error {
			if sess.mic == nil {
				return nil
			}
			return sess.mic.Close()
		}},
		{name: "detach_capture", fn: sess.detachCapture},
		{name: "close_input_path", fn: func() error {
			return c.flushRecording(sess, "input")
		}},
		{name: "close_output_path", fn: func() error {
			return errors.Join(
				guard(func() error {
					if sess.speaker == nil {
						return nil
					}
					return sess.speaker.Close()
				}),
				guard(func() error {
					if sess.mixer == nil {
						return nil
					}
					return sess.mixer.Close()
				}),
				guard(func() error { return c.flushRecording(sess, "output") }),
			)
		}},
		{name: "clear_scheduler", fn: func() error {
			if sess.scheduler != nil {
				sess.scheduler.Teardown()
			}
			return nil
		}},
	}
	if resetShared {
		steps = append(steps, releaseStep{name: "reset_cursors", fn: func() error {
			c.tap.set(nil)
			c.analyzer.Reset()
			c.setSpeaking(false)
			c.metrics.PlaybackQueueDepth.Set(0)
			return nil
		}})
	}

	report := TeardownReport{Epoch: sess.epoch, Steps: make([]TeardownStep, 0, len(steps))}
	for _, step := range steps {
		err := guard(step.fn)
		report.Steps = append(report.Steps, TeardownStep{Name: step.name, Err: err})
		if err != nil {
			rel := &reliability.ReleaseError{Step: step.name, Err: err}
			c.metrics.TeardownFailures.WithLabelValues(step.name).Inc()
			c.logger.Warn().Err(rel).Str("step", step.name).Uint64("epoch", sess.epoch).Msg("teardown step failed")
		}
	}
	return report
}

func (s *activeSession) detachCapture() error {
	if s.pumpStop == nil {
		return nil
	}
	close(s.pumpStop)
	s.pumpStop = nil
	select {
	case <-s.pumpDone:
		return nil
	case <-time.After(pumpExitTimeout):
		return errors.New("capture pump did not exit")
	}
}

func (c *Controller) flushRecording(sess *activeSession, direction string) error {
	rec := sess.inRec
	if direction == "output" {
		rec = sess.outRec
	}
	path, err := rec.Flush(sess.label)
	if err != nil {
		return err
	}
	if path != "" {
		c.logger.Info().Str("path", path).Str("direction", direction).Msg("session audio recorded")
	}
	return nil
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
