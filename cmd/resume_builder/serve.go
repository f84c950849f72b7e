package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jonathan/resume-builder/internal/config"
	"github.com/jonathan/resume-builder/internal/server"
	"github.com/jonathan/resume-builder/internal/server/ratelimit"
	"github.com/jonathan/resume-builder/internal/workflow"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for sessions, the knowledge graph and the resume workflow.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT and the config file)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	passwordConfig, err := config.NewPasswordConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	gateway, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close llm client")
		}
	}()

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	svc := workflow.New(store, gateway,
		workflow.WithLocker(locker),
		workflow.WithFetcher(companyFetcher(cfg)),
	)

	srv, err := server.New(server.Config{
		Port:         cfg.Port,
		CookieSecure: cfg.CookieSecure,
		CORSOrigins:  cfg.CORSOrigins,
		WriteTimeout: cfg.Timeout() + 30*time.Second,
	}, server.Deps{
		Workflow:  svc,
		Users:     store,
		Pinger:    store,
		Gateway:   gatewayHealth(gateway),
		JWT:       jwtConfig,
		Password:  passwordConfig,
		RateLimit: ratelimit.LoadConfig(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(ctx)
}
