package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/lgulliver/rvcstore/pkg/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree:
//   - serve (default)
//   - models list [--json]
//   - models show <name>
//   - sweep
func newRootCmd() *cobra.Command {
	var (
		configFile string
		cfg        *config.Config
	)

	cmd := &cobra.Command{
		Use:   "rvcstore",
		Short: "Voice model store",
		Long:  "Download, upload and list RVC voice model bundles.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}
			loaded, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			loaded.Logging.SetupLogging()
			*cfg = *loaded
			return nil
		},
		SilenceUsage: true,
	}
	cfg = &config.Config{}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a TOML config file (default $CONFIG_FILE)")

	serveCommand := serveCmd(cfg)
	cmd.RunE = serveCommand.RunE
	cmd.AddCommand(serveCommand)
	cmd.AddCommand(modelsCmd(cfg))
	cmd.AddCommand(sweepCmd(cfg))

	return cmd
}

func serveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().Msg("Starting rvcstore API gateway")

	a, err := newApp(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize services")
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close services")
		}
	}()

	if err := a.startBackground(ctx); err != nil {
		return err
	}

	router := setupRouter(&cfg.Server, a.service)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	log.Info().Msg("Server shutdown complete")
	return nil
}

func modelsCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect installed models",
	}
	cmd.AddCommand(modelsListCmd(cfg))
	cmd.AddCommand(modelsShowCmd(cfg))
	return cmd
}

func modelsListCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			names, err := a.service.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if names == nil {
					names = []string{}
				}
				return json.NewEncoder(out).Encode(names)
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func modelsShowCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show the files of one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			model, err := a.service.Model(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tSIZE")
			for _, f := range model.Files {
				fmt.Fprintf(w, "%s\t%s\n", f.Path, utils.FormatBytes(f.Size))
			}
			fmt.Fprintf(w, "TOTAL\t%s\n", utils.FormatBytes(model.TotalSize))
			return w.Flush()
		},
	}
}

func sweepCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned staging directories and download files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.janitor.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d transient entries\n", removed)
			return err
		},
	}
}
