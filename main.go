package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/proteosurf/proteosurf/internal/config"
	"github.com/proteosurf/proteosurf/internal/docking"
	"github.com/proteosurf/proteosurf/internal/models"
	"github.com/proteosurf/proteosurf/internal/render"
	"github.com/proteosurf/proteosurf/internal/server"
	"github.com/proteosurf/proteosurf/internal/store"
)

var version = "0.2.0"

func main() {
	var (
		transport  string
		port       string
		configPath string
		dataDir    string
	)

	root := &cobra.Command{
		Use:          "proteosurf",
		Short:        "Structural biology MCP server: structures, pockets, rendering, docking",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			return serve(cfg, transport, port)
		},
	}
	root.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	root.Flags().StringVar(&port, "port", "8081", "HTTP port (only used with --transport http)")
	root.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	root.Flags().StringVar(&dataDir, "data-dir", "", "Directory for the structure cache and scratch files")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("proteosurf " + version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cfg *config.Config, transport, port string) error {
	// In stdio mode stdout belongs to the MCP transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	scratchDir := filepath.Join(cfg.DataDir, "scratch")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	fetchers := map[models.Source]store.Fetcher{
		models.SourceRCSB:      store.NewRCSBFetcher(cfg.Store.HTTPTimeout.Std()),
		models.SourceAlphaFold: store.NewAlphaFoldFetcher(cfg.Store.HTTPTimeout.Std()),
	}
	structures, err := store.Open(cfg.DataDir, cfg.Store.ParsedCacheSize, fetchers, logger)
	if err != nil {
		return err
	}
	defer structures.Close()

	renderMgr := render.NewManager(render.ManagerConfig{
		Session: render.Config{
			Binary:         cfg.Render.Binary,
			Args:           cfg.Render.Args,
			ScratchDir:     scratchDir,
			StartTimeout:   cfg.Render.StartTimeout.Std(),
			CommandTimeout: cfg.Render.CommandTimeout.Std(),
			GracePeriod:    cfg.Render.GracePeriod.Std(),
			Logger:         logger,
		},
		MaxSessions: cfg.Render.MaxSessions,
		IdleTimeout: cfg.Render.IdleTimeout.Std(),
		Logger:      logger,
	})
	defer renderMgr.CloseAll()

	pipeline := docking.New(docking.Config{
		VinaBinary:   cfg.Docking.VinaBinary,
		ObabelBinary: cfg.Docking.ObabelBinary,
		ScratchDir:   scratchDir,
		MaxJobs:      int64(cfg.Docking.MaxJobs),
		PrepTimeout:  cfg.Docking.PrepTimeout.Std(),
		RunTimeout:   cfg.Docking.RunTimeout.Std(),
		Logger:       logger,
	})

	deps := server.Deps{Store: structures, Render: renderMgr, Docking: pipeline}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch transport {
	case "stdio":
		logger.Info("proteosurf MCP server starting", "transport", "stdio")
		return server.New(deps).Run(ctx, &mcp.StdioTransport{})
	case "http":
		addr := ":" + port
		handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return server.New(deps)
		}, nil)

		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		r.Handle("/*", handler)

		srv := &http.Server{Addr: addr, Handler: r}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("proteosurf MCP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown transport %q (use stdio or http)", transport)
	}
}
