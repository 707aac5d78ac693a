package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/chaatu/internal/db"
	"github.com/zulandar/chaatu/internal/mockapi"
)

func newMockServerCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run the development backend",
		Long:  "Serves the chat REST API and streaming endpoint with canned replies, backed by SQLite or MySQL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockServer(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides mock_server.port)")
	return cmd
}

func runMockServer(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	msCfg := cfg.MockServer
	if port > 0 {
		msCfg.Port = port
	}

	gormDB, err := db.Open(msCfg.Database)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	srv, err := mockapi.New(mockapi.Opts{
		DB:         gormDB,
		UploadDir:  msCfg.UploadDir,
		Retention:  time.Duration(msCfg.UploadRetentionHours) * time.Hour,
		SweepCron:  msCfg.SweepCron,
		ChunkDelay: time.Duration(msCfg.ChunkDelayMS) * time.Millisecond,
		Out:        cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return srv.Start(ctx, msCfg.Addr())
}
