package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/chronicle/internal/api"
	"github.com/kalambet/chronicle/internal/campaign"
	"github.com/kalambet/chronicle/internal/config"
	"github.com/kalambet/chronicle/internal/janitor"
	"github.com/kalambet/chronicle/internal/settings"
	"github.com/kalambet/chronicle/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chronicle server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running chronicle server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chronicle status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", true, "serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chronicle.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "chronicle version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if err := checkNotRunning(cfg); err != nil {
		return err
	}
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	cs, worker, err := openCampaign(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	go worker.Run(ctx)
	go func() {
		if err := cs.Watch(ctx); err != nil {
			logger.Error("campaign watch stopped", "error", err)
		}
	}()

	if mcpStdio {
		stdio := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Campaign: cs, Version: version}))
		go func() {
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	srv := &http.Server{
		Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler: api.NewAppHandler(api.AppDeps{
			Campaign: cs,
			Settings: settings.NewManager(store),
			Blobs:    store,
			Token:    cfg.API.Token,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv)
}

// checkNotRunning fails when another server already answers on the
// configured port.
func checkNotRunning(cfg config.Config) error {
	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	resp, err := client.get(context.Background(), "/health")
	if err != nil {
		return nil
	}
	resp.Body.Close()
	if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
		printWarning("chronicle is already running (PID %d)", pid)
		return fmt.Errorf("server already running (PID %d)", pid)
	}
	printWarning("chronicle is already running on port %d", cfg.Server.Port)
	return fmt.Errorf("server already running on port %d", cfg.Server.Port)
}

// openCampaign builds the campaign store on top of the configured backend,
// with orphaned blob deletions handed to the janitor.
func openCampaign(ctx context.Context, cfg config.Config, store *storage.Store, logger *slog.Logger) (*campaign.Store, *janitor.Worker, error) {
	adapter, err := storage.NewAdapter(cfg.Storage.Backend, store, logger)
	if err != nil {
		return nil, nil, err
	}
	worker := janitor.NewWorker(store, adapter, cfg.Janitor.PollInterval, logger)

	cs := campaign.NewStore(adapter, campaign.Options{
		Logger:       logger,
		OrphanedBlob: worker.Enqueue,
	})
	if err := cs.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("loading campaign: %w", err)
	}
	if cfg.Campaign.Seed {
		if _, err := cs.SeedIfEmpty(ctx); err != nil {
			return nil, nil, fmt.Errorf("seeding campaign: %w", err)
		}
	}
	logger.Info("campaign loaded", "backend", cfg.Storage.Backend, "sessions", len(cs.Sessions()))
	return cs, worker, nil
}

// serve runs srv until ctx ends or the listener fails, then shuts down
// within five seconds.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "chronicle listening on %s\n", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("chronicle is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop chronicle (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to chronicle (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.API.Token,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	reportStatus(context.Background(), client)

	printStatus("Backend", "%s", cfg.Storage.Backend)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// reportStatus prints server health and, when it is up, campaign counts.
func reportStatus(ctx context.Context, client *apiClient) bool {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return false
	}
	printStatus("Server", "running at %s", client.baseURL)

	var s settings.Settings
	if r, err := client.get(ctx, "/api/settings"); err == nil && decodeJSON(r, &s) == nil {
		printStatus("Campaign", "%s", s.Summary())
	}
	for _, kind := range campaign.Kinds {
		r, err := client.get(ctx, "/api/"+string(kind))
		if err != nil {
			continue
		}
		var records []struct{}
		if decodeJSON(r, &records) == nil {
			printStatus(strings.ToUpper(string(kind[:1]))+string(kind[1:]), "%d", len(records))
		}
	}
	return true
}
