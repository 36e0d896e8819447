package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/antoniostano/salut/internal/protocol"
)

type probeOptions struct {
	baseURL        string
	texts          []string
	connectTimeout time.Duration
	turnTimeout    time.Duration
	interTurnDelay time.Duration
}

var defaultProbeTexts = []string{
	"Bonjour, comment ça va ?",
	"Comment dit-on 'thank you' en français ?",
	"Je voudrais un café, s'il vous plaît.",
}

type wsEnvelope struct {
	Type   string `json:"type"`
	State  string `json:"state,omitempty"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func newProbeCmd() *cobra.Command {
	var (
		opts     probeOptions
		textsRaw string
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Drive a running tutor over the websocket API and report turn latency",
		// probe only talks to a remote server; it needs no local configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			texts, err := parseProbeTexts(textsRaw)
			if err != nil {
				return err
			}
			opts.texts = texts
			return runProbe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "tutor base URL")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	cmd.Flags().DurationVar(&opts.connectTimeout, "connect-timeout", 30*time.Second, "time to wait for the session to connect")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 20*time.Second, "time to wait for each tutor reply")
	cmd.Flags().DurationVar(&opts.interTurnDelay, "inter-turn", 300*time.Millisecond, "delay between turns")
	return cmd
}

func parseProbeTexts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultProbeTexts...), nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("texts produced no non-empty utterances")
	}
	return out, nil
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/tutor/ws"
	return u.String(), nil
}

func runProbe(ctx context.Context, opts probeOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	wsURL, err := wsURLFor(opts.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	inbound := make(chan wsEnvelope, 64)
	readErr := make(chan error, 1)
	go probeReadLoop(conn, inbound, readErr)

	start := time.Now()
	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionStart}); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	if err := awaitEnvelope(inbound, readErr, opts.connectTimeout, func(e wsEnvelope) bool {
		return e.Type == string(protocol.TypeStateEvent) && e.State == "connected"
	}); err != nil {
		return fmt.Errorf("await connected: %w", err)
	}
	fmt.Fprintf(out, "probe: connected in %s\n", time.Since(start).Round(time.Millisecond))

	var latencies []time.Duration
	for i, text := range opts.texts {
		sent := time.Now()
		if err := conn.WriteJSON(protocol.ClientText{Type: protocol.TypeClientText, Text: text}); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		if err := awaitEnvelope(inbound, readErr, opts.turnTimeout, func(e wsEnvelope) bool {
			return e.Type == string(protocol.TypeTranscriptItem) && e.Role == "model"
		}); err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		d := time.Since(sent)
		latencies = append(latencies, d)
		fmt.Fprintf(out, "probe: turn %d/%d %q -> %s\n", i+1, len(opts.texts), text, d.Round(time.Millisecond))
		if opts.interTurnDelay > 0 && i < len(opts.texts)-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}

	_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionStop})
	p50, p95 := percentiles(latencies)
	fmt.Fprintf(out, "probe: turns=%d p50=%s p95=%s\n", len(latencies), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	return nil
}

func probeReadLoop(conn *websocket.Conn, inbound chan<- wsEnvelope, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case inbound <- env:
		default:
		}
	}
}

func awaitEnvelope(inbound <-chan wsEnvelope, readErr <-chan error, timeout time.Duration, match func(wsEnvelope) bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-inbound:
			if env.Type == string(protocol.TypeErrorEvent) {
				return fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
			}
			if match(env) {
				return nil
			}
		case err := <-readErr:
			return err
		case <-timer.C:
			return fmt.Errorf("timed out after %s", timeout)
		}
	}
}

func percentiles(samples []time.Duration) (p50, p95 time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(q float64) time.Duration {
		idx := int(q*float64(len(sorted)-1) + 0.5)
		return sorted[idx]
	}
	return at(0.5), at(0.95)
}
