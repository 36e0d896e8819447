package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/antoniostano/salut/internal/config"
	"github.com/antoniostano/salut/internal/device"
	"github.com/antoniostano/salut/internal/httpapi"
	"github.com/antoniostano/salut/internal/observability"
	"github.com/antoniostano/salut/internal/progress"
	"github.com/antoniostano/salut/internal/reliability"
	"github.com/antoniostano/salut/internal/session"
	"github.com/antoniostano/salut/internal/store"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Controller *session.Controller
	Store      store.Store
	Metrics    *observability.Metrics
	Transport  string
	Detail     string

	// Cleanup releases the store and audio devices on shutdown.
	Cleanup func() error
}

// SessionOptions maps runtime configuration onto controller options.
func SessionOptions(cfg config.Config) session.Options {
	opts := session.DefaultOptions()
	opts.Model = cfg.Model
	opts.Voice = cfg.Voice
	opts.Persona = progress.Persona{
		TargetLanguage:      cfg.TargetLanguage,
		InstructionLanguage: cfg.InstructionLanguage,
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.Backoff = reliability.Backoff{
		Strategy: cfg.RetryBackoff,
		Base:     cfg.RetryBaseDelay,
		Max:      cfg.RetryMaxDelay,
	}
	opts.AcquireRetryDelay = cfg.AcquireRetryDelay
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.InactivityTimeout = cfg.InactivityTimeout
	if cfg.CaptureFrames > 0 {
		opts.CaptureFrames = cfg.CaptureFrames
	}
	opts.LeadIn = cfg.PlaybackLeadIn
	opts.OutputGain = cfg.OutputGain
	opts.Thresholds = cfg.VisemeThresholds
	if cfg.VolumeRelease > 0 {
		opts.Release = cfg.VolumeRelease
	}
	if cfg.AnimationFPS > 0 {
		opts.FPS = cfg.AnimationFPS
	}
	opts.ProgressEnabled = cfg.ProgressEnabled
	if cfg.ProgressKey != "" {
		opts.ProgressKey = cfg.ProgressKey
	}
	opts.RecordDir = cfg.RecordDir
	return opts
}

// OpenStore opens the configured progress store on its own, for commands that
// do not run a session.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	st, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("progress store init failed: %w", err)
	}
	return st, nil
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	transport, err := resolveTransport(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	devices, err := resolveDevices(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	controller, err := session.NewController(SessionOptions(cfg), session.Deps{
		Connector: transport.connector,
		Devices:   devices,
		Store:     st,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		_ = devices.Close()
		_ = st.Close()
		return nil, fmt.Errorf("session controller init failed: %w", err)
	}

	api := httpapi.New(cfg, controller, st, metrics, logger)

	cleanup := func() error {
		return closeAll(devices, st)
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Controller: controller,
		Store:      st,
		Metrics:    metrics,
		Transport:  transport.resolved,
		Detail:     fmt.Sprintf("transport=%s devices=%s store=%s", transport.detail, devices.Name(), st.Mode()),
		Cleanup:    cleanup,
	}, nil
}

func closeAll(devices device.Backend, st store.Store) error {
	var errs []error
	if devices != nil {
		if err := devices.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close devices: %w", err))
		}
	}
	if st != nil {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
