package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/runtime"
)

// ServeCmd starts the agent runtime.
type ServeCmd struct {
	Port     int    `help:"Status server port override."`
	KeysFile string `name:"keys-file" help:"Reloadable API keys file, watched for changes." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()
	rt.KeysFile = c.KeysFile

	if err := rt.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// ValidateCmd validates a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration OK: %d agents, %d providers, tier %s\n",
		len(cfg.Agents), len(cfg.Providers), cfg.ModelTier)
	return nil
}
