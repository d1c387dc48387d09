// OpsDesk is a tool-calling operations assistant in front of the deployment
// control plane.
//
// Commands:
//   - serve: run the HTTP API (chat, tools, conversations, MCP)
//   - tools: print the tool catalogue, optionally filtered by role or
//     compared against what the control plane advertises
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentoven/opsdesk/internal/config"
	"github.com/agentoven/opsdesk/internal/permissions"
	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
	"github.com/agentoven/opsdesk/pkg/server"
)

var version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:           "opsdesk",
		Short:         "OpsDesk - chat operations assistant for the deployment control plane",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if debug {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd(), newToolsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Port = port
			}
			if version != "dev" {
				cfg.Version = version
			}
			return serve(cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides OPSDESK_PORT)")
	return cmd
}

func serve(cfg *config.Config) error {
	log.Info().Msg("🧰 OpsDesk starting...")

	ctx := context.Background()
	srv, err := server.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer srv.Close(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // two model passes plus tool calls
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", srv.Port).Msg("🚀 OpsDesk is ready")

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func newToolsCmd() *cobra.Command {
	var (
		remote bool
		roles  []string
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalogue",
		Long: `List the built-in tool catalogue.

With --role the list is filtered to what that role may discover.
With --remote the control plane's advertised tools are fetched and compared.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tools := registry.Default().All()
			if len(roles) > 0 {
				tools = permissions.FilterTools(permissions.FromClaims(roles, nil), tools)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCATEGORY\tPERMISSION\tREQUIRED")
			for _, t := range tools {
				var required []string
				for _, p := range t.Parameters {
					if p.Required {
						required = append(required, p.Name)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Category, t.RequiredPermission, strings.Join(required, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !remote {
				return nil
			}
			return compareRemote(cmd, tools)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "compare with the control plane's /api/tools")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "filter by role (admin, devops, developer, viewer)")
	return cmd
}

func compareRemote(cmd *cobra.Command, local []models.ToolMetadata) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client := server.NewBackendClient(cfg.Backend)

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	remoteTools, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list remote tools: %w", err)
	}

	advertised := make(map[string]bool, len(remoteTools))
	for _, t := range remoteTools {
		advertised[t.Name] = true
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nControl plane at %s advertises %d tools\n", cfg.Backend.BaseURL, len(remoteTools))
	for _, t := range local {
		mark := "✓"
		if !advertised[t.Name] {
			mark = "✗ not advertised"
		}
		fmt.Fprintf(out, "  %-22s %s\n", t.Name, mark)
	}
	return nil
}
