package app

import (
	"context"
	"fmt"

	"github.com/antoniostano/salut/internal/config"
	"github.com/antoniostano/salut/internal/device"
	"github.com/antoniostano/salut/internal/live"
)

type transportSetup struct {
	connector live.Connector
	resolved  string
	detail    string
}

func resolveTransport(ctx context.Context, cfg config.Config) (transportSetup, error) {
	switch cfg.ResolvedTransport() {
	case "gemini":
		c, err := live.NewGeminiConnector(ctx, cfg.GeminiKey)
		if err != nil {
			return transportSetup{}, fmt.Errorf("gemini connector init failed: %w", err)
		}
		return transportSetup{connector: c, resolved: "gemini", detail: "gemini live (" + cfg.Model + ")"}, nil
	case "mock":
		detail := "mock"
		if cfg.Transport == "auto" {
			detail = "mock (no GEMINI_API_KEY)"
		}
		return transportSetup{connector: live.NewMockConnector(), resolved: "mock", detail: detail}, nil
	default:
		return transportSetup{}, fmt.Errorf("invalid SALUT_TRANSPORT: %q (expected auto|gemini|mock)", cfg.Transport)
	}
}

func resolveDevices(cfg config.Config) (device.Backend, error) {
	switch cfg.AudioDevice {
	case "null":
		return device.NewNull(), nil
	case "portaudio", "":
		b, err := device.NewPortAudio()
		if err != nil {
			return nil, fmt.Errorf("portaudio init failed: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("invalid SALUT_AUDIO_DEVICE: %q (expected portaudio|null)", cfg.AudioDevice)
	}
}
