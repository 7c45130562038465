// Command dynamic-mcp runs the gateway: a single MCP server on
// stdin/stdout that fans requests out to the downstreams named in a
// config file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dynamic-mcp/gateway/internal/buildinfo"
	"github.com/dynamic-mcp/gateway/internal/frontend"
	"github.com/dynamic-mcp/gateway/internal/logs"
	"github.com/dynamic-mcp/gateway/internal/oauth"
	"github.com/dynamic-mcp/gateway/internal/registry"
	"github.com/dynamic-mcp/gateway/internal/reload"
)

// shutdownGrace bounds how long close-all-groups is allowed to take
// after an interrupt, and then how long the front-end is given to
// finish, before the process exits anyway.
const shutdownGrace = 5 * time.Second

// configPathEnvVar names the environment variable the positional
// config path argument falls back to when absent.
const configPathEnvVar = "GATEWAY_MCP_CONFIG"

func main() {
	os.Exit(run())
}

func run() int {
	exitCode := 0

	rootCmd := &cobra.Command{
		Use:          "dynamic-mcp [config-path]",
		Short:        "MCP multiplexing proxy: one server to the host, many downstreams behind it",
		Version:      buildinfo.Version,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := resolveConfigPath(args)
			if err != nil {
				exitCode = 2
				return err
			}
			exitCode = serve(configPath)
			return nil
		},
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = 2
		}
	}
	return exitCode
}

func resolveConfigPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if path, ok := os.LookupEnv(configPathEnvVar); ok {
		return path, nil
	}
	return "", fmt.Errorf("no config path given: pass it as an argument or set %s", configPathEnvVar)
}

// serve wires up logging, the group registry, the OAuth manager, the
// reload controller, and the front-end server, then runs until EOF on
// stdin or an interrupt. It returns the process exit code.
func serve(configPath string) int {
	logger, err := logs.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	store, err := oauth.NewStore()
	if err != nil {
		logger.Error("failed to initialize oauth token store", zap.Error(err))
		return 1
	}
	tokens := oauth.NewManager(store, logger)
	reg := registry.New(logger)

	controller, err := reload.NewController(configPath, reg, tokens, logger)
	if err != nil {
		logger.Error("failed to start config watcher", zap.Error(err))
		return 1
	}
	defer controller.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Reconcile(ctx); err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return 1
	}
	go controller.Run(ctx)

	server := frontend.New(reg, logger)
	runErr := make(chan error, 1)
	go func() {
		runErr <- server.Run(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case err := <-runErr:
		if err != nil {
			logger.Error("front-end server exited with error", zap.Error(err))
			return 1
		}
		return 0
	case <-ctx.Done():
		logger.Info("shutdown signal received, closing all groups")
		closeAllGroups(reg, logger)
		select {
		case <-runErr:
		case <-time.After(shutdownGrace):
		}
		return 130
	}
}

func closeAllGroups(reg *registry.Registry, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, name := range reg.Names() {
			g := reg.Remove(name)
			if g == nil {
				continue
			}
			if err := g.Close(); err != nil {
				logger.Warn("error closing group during shutdown", zap.String("group", name), zap.Error(err))
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown grace period expired, exiting without waiting for all groups to close")
	}
}
