package session

import (
	"context"
	"time"

	"github.com/antoniostano/salut/internal/policy"
	"github.com/antoniostano/salut/internal/progress"
	"github.com/antoniostano/salut/internal/store"
	"github.com/antoniostano/salut/internal/transcript"
)

const (
	storeTimeout   = 3 * time.Second
	writeQueueSize = 64
)

// startWriter runs store jobs in submission order off the loop goroutine.
// The returned func drains queued jobs and waits for the writer to exit.
func (c *Controller) startWriter() func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	c.writerActive.Store(true)
	go func() {
		defer close(done)
		for {
			select {
			case job := <-c.writes:
				job()
			case <-stop:
				for {
					select {
					case job := <-c.writes:
						job()
					default:
						return
					}
				}
			}
		}
	}()
	return func() {
		c.writerActive.Store(false)
		close(stop)
		<-done
	}
}

// enqueueStore hands job to the writer. Without a running writer, or with a
// full queue, the job runs on the caller.
func (c *Controller) enqueueStore(name string, job func()) {
	if !c.writerActive.Load() {
		job()
		return
	}
	select {
	case c.writes <- job:
	default:
		c.metrics.SessionEvents.WithLabelValues("store_queue_full").Inc()
		c.logger.Warn().Str("job", name).Msg("store queue full; running inline")
		job()
	}
}

// loadInstruction builds the persona instruction behind any queued writes, so
// a restart sees the progress its predecessor committed.
func (c *Controller) loadInstruction(ctx context.Context) string {
	out := make(chan string, 1)
	c.enqueueStore("load_instruction", func() {
		if ctx.Err() != nil {
			out <- ""
			return
		}
		out <- c.instruction(ctx)
	})
	select {
	case s := <-out:
		return s
	case <-ctx.Done():
		return ""
	}
}

func (c *Controller) instruction(ctx context.Context) string {
	p, err := store.LoadOrNew(ctx, c.store, c.opts.ProgressKey)
	if err != nil {
		c.logger.Warn().Err(err).Msg("load progress for instruction failed")
		p = progress.New()
	}
	var recent []string
	records, err := c.store.RecentTranscript(ctx, c.opts.ProgressKey, 20)
	if err != nil {
		c.logger.Warn().Err(err).Msg("load recent transcript failed")
	}
	for _, r := range records {
		if r.Role == string(transcript.RoleUser) {
			recent = append(recent, r.Content)
		}
	}
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	return progress.Instruction(p, c.opts.Persona, recent)
}

func (c *Controller) commitProgress() {
	now := c.now()
	c.enqueueStore("commit_progress", func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		p, err := store.LoadOrNew(ctx, c.store, c.opts.ProgressKey)
		if err != nil {
			c.logger.Error().Err(err).Msg("load progress failed; session not counted")
			return
		}
		next := progress.Commit(p, now)
		if err := c.store.SaveProgress(ctx, c.opts.ProgressKey, next); err != nil {
			c.logger.Error().Err(err).Msg("save progress failed")
			return
		}
		c.metrics.SessionEvents.WithLabelValues("progress_committed").Inc()
		c.logger.Info().
			Int("sessions_completed", next.SessionsCompleted).
			Str("level", string(next.CurrentLevel)).
			Msg("progress committed")
	})
}

func (c *Controller) persistItems(items []transcript.Item) {
	if len(items) == 0 {
		return
	}
	records := make([]store.TranscriptRecord, 0, len(items))
	for _, it := range items {
		// Stored history is fed back into later instructions; keep PII out.
		content, redacted := policy.RedactPII(it.Text)
		if redacted {
			c.metrics.SessionEvents.WithLabelValues("transcript_redacted").Inc()
		}
		records = append(records, store.TranscriptRecord{
			ID:          it.ID,
			ProgressKey: c.opts.ProgressKey,
			SessionID:   c.sessionID,
			Role:        string(it.Role),
			Content:     content,
			CreatedAt:   time.UnixMilli(it.Timestamp).UTC(),
		})
	}
	c.enqueueStore("save_transcript", func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		for _, r := range records {
			if err := c.store.SaveTranscript(ctx, r); err != nil {
				c.logger.Warn().Err(err).Str("item_id", r.ID).Msg("save transcript item failed")
			}
		}
	})
}
