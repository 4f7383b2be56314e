package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/BioHazard786/warpcall/internal/docstore"
	"github.com/BioHazard786/warpcall/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling document server",
	Long: `Run the signaling document server that hosts room documents.

Examples:
  warpcall serve
  warpcall serve --listen :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Address to listen on")
}

func serve(ctx context.Context) error {
	// Servers log at info unless LOG_LEVEL says otherwise.
	if _, ok := os.LookupEnv("LOG_LEVEL"); !ok {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}

	hub := docstore.NewHub(log.Logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.NewRouter(cfg, hub, log.Logger),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	log.Info().Msg("server exited gracefully")
	return nil
}
