package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antoniostano/salut/internal/app"
	"github.com/antoniostano/salut/internal/session"
)

func newTalkCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "talk",
		Short: "Start a lesson in the terminal using the local microphone and speaker",
		Long:  "Start a lesson in the terminal. Typed lines are sent to the tutor; /quit or Ctrl-D ends the lesson.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTalk(cmd.Context(), g, os.Stdin, cmd.OutOrStdout())
		},
	}
}

func runTalk(parent context.Context, g *globals, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			g.logger.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	c := res.Controller
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	runCtx, runCancel := context.WithCancel(context.Background())
	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		_ = c.Run(runCtx)
	}()
	defer func() {
		runCancel()
		<-controllerDone
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "salut: lesson starting (%s). Type to chat, /quit to stop.\n", res.Detail)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return stopLesson(c, out)
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return stopLesson(c, out)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := c.SendText(ctx, line); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		case ev := <-events:
			printEvent(out, ev)
		}
	}
}

func stopLesson(c *session.Controller, out io.Writer) error {
	if err := c.Stop(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(out, "salut: lesson ended. À bientôt !")
	return nil
}

func printEvent(out io.Writer, ev session.Event) {
	switch ev.Type {
	case session.EventState:
		s := ev.Snapshot
		switch {
		case s.Retrying:
			fmt.Fprintf(out, "[%s] retrying (attempt %d)\n", s.State, s.RetryCount)
		default:
			fmt.Fprintf(out, "[%s]\n", s.State)
		}
	case session.EventTranscript:
		fmt.Fprintf(out, "%s: %s\n", ev.Item.Role, ev.Item.Text)
	case session.EventError:
		fmt.Fprintf(out, "! %s\n", ev.Error)
	}
}
