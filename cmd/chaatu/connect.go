package main

import (
	"fmt"
	"net/http"

	"github.com/zulandar/chaatu/internal/api"
	"github.com/zulandar/chaatu/internal/config"
	"github.com/zulandar/chaatu/internal/session"
	"github.com/zulandar/chaatu/internal/store"
	"github.com/zulandar/chaatu/internal/transport"
)

const defaultConfigPath = "chaatu.yaml"

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newAPIClient(cfg *config.Config) (*api.Client, error) {
	return api.New(api.Opts{
		BaseURL:    cfg.API.BaseURL,
		Token:      cfg.API.Token,
		Timeout:    cfg.API.Timeout(),
		MaxRetries: cfg.API.MaxRetries,
	})
}

// newSession wires the API client, streaming transport and store into a
// controller. The returned func releases all of them.
func newSession(cfg *config.Config, nav session.Navigator) (*session.Controller, func(), error) {
	apiClient, err := newAPIClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	var header http.Header
	if cfg.API.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + cfg.API.Token}}
	}
	tc, err := transport.New(transport.Opts{
		BaseURL:        cfg.API.StreamBase(),
		Header:         header,
		InitialBackoff: cfg.Transport.InitialBackoff(),
		MaxBackoff:     cfg.Transport.MaxBackoff(),
	})
	if err != nil {
		return nil, nil, err
	}

	st := store.New(store.State{
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		WebSearch:   cfg.Chat.WebSearch,
	})
	ctrl, err := session.NewController(session.ControllerOpts{
		Store:     st,
		API:       apiClient,
		Transport: tc,
		UserID:    cfg.UserID,
		Navigator: nav,
	})
	if err != nil {
		tc.Shutdown()
		return nil, nil, err
	}

	return ctrl, func() {
		ctrl.Close()
		tc.Shutdown()
	}, nil
}
