// Copyright 2025 The schemaseek Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command schemaseek answers natural-language questions over
// schema.org-annotated content.
//
// Usage:
//
//	schemaseek serve --config ./config
//	schemaseek validate --config ./config
//	schemaseek version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/conversation"
	"github.com/schemaseek/schemaseek/pkg/embedders"
	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/logger"
	"github.com/schemaseek/schemaseek/pkg/pipeline"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/retrieval"
	"github.com/schemaseek/schemaseek/pkg/server"
	"github.com/schemaseek/schemaseek/pkg/tooldefs"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the answering server."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration directory and exit."`

	Config   string `short:"c" help:"Path to the configuration directory." type:"path" default:"./config"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile  string `help:"Log file path (empty = stderr)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("schemaseek version %s\n", version)
	return nil
}

// ValidateCmd loads and validates the configuration, including the prompt
// and tool files, without starting the server.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if _, err := prompts.Load(filepath.Join(cfg.Dir, "prompts.xml")); err != nil {
		return err
	}
	if _, err := tooldefs.Load(filepath.Join(cfg.Dir, "tools.xml")); err != nil {
		return err
	}
	fmt.Println("Configuration is valid")
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port int `help:"Override the configured listen port."`
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
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "dir", cfg.Dir, "mode", string(cfg.App.Mode))

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	promptReg, err := prompts.Load(filepath.Join(cfg.Dir, "prompts.xml"))
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	toolReg, err := tooldefs.Load(filepath.Join(cfg.Dir, "tools.xml"))
	if err != nil {
		return fmt.Errorf("failed to load tools: %w", err)
	}
	slog.Info("Loaded definitions", "tools", toolReg.Count())

	embedder, err := embedders.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	if embedder != nil {
		defer embedder.Close()
	}

	retriever, err := retrieval.NewAggregator(&cfg.Retrieval, embedder)
	if err != nil {
		return fmt.Errorf("failed to create retrieval backends: %w", err)
	}
	defer retriever.Close()

	llmSvc := llms.NewService(cfg)
	defer llmSvc.Close()

	var storage conversation.Storage
	if cfg.Storage.Enabled {
		storage, err = conversation.New(&cfg.Storage, embedder)
		if err != nil {
			return fmt.Errorf("failed to create conversation storage: %w", err)
		}
		defer storage.Close()
	}

	p := pipeline.New(cfg, promptReg, toolReg, meteredAsker{llmSvc}, retriever)
	srv := server.New(cfg, p, retriever, storage, versionString())

	fmt.Printf("\nschemaseek ready on http://%s\n", cfg.Server.Address())
	fmt.Printf("   Ask:     http://%s/ask?query=...\n", cfg.Server.Address())
	fmt.Printf("   Sites:   http://%s/sites\n", cfg.Server.Address())
	fmt.Printf("   Health:  http://%s/health\n", cfg.Server.Address())
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

func versionString() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("schemaseek"),
		kong.Description("schemaseek - natural-language answers over schema.org content"),
		kong.UsageOnError(),
	)

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
