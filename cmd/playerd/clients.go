package main

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/KartoffelChipss/pelagica/playerd/internal/config"
	"github.com/KartoffelChipss/pelagica/playerd/internal/device"
	"github.com/KartoffelChipss/pelagica/playerd/internal/jellyfin"
	"github.com/KartoffelChipss/pelagica/playerd/internal/prefs"
)

// services are the pieces every command needs to talk to the server.
type services struct {
	cfg      *config.Config
	prefs    *prefs.Store
	identity *device.Identity
	client   *jellyfin.Client
}

func openServices(cfg *config.Config) (*services, error) {
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server.url is not set in %s", filepath.Join(cfg.DataDir, "config.json"))
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := prefs.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	identity := device.NewIdentity(store)

	client := jellyfin.NewClient(cfg.Server.URL, jellyfin.Options{
		AccessToken: cfg.Server.AccessToken,
		UserID:      cfg.Server.UserID,
		DeviceName:  cfg.Server.DeviceName,
		Version:     Version,
		DeviceID:    identity.ID,
		Timeout:     cfg.Server.Timeout(),
		RateLimit:   rate.Limit(cfg.Server.RequestsPerSecond),
	})

	return &services{cfg: cfg, prefs: store, identity: identity, client: client}, nil
}
