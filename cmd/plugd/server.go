package main

import (
	"context"
	"encoding/json"
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

	"plugd/internal/api"
	"plugd/internal/config"
	"plugd/internal/gemini"
	"plugd/internal/media"
	"plugd/internal/session"
	"plugd/internal/storage"
	"plugd/internal/web"
	"plugd/internal/ytdlp"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the plugd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running plugd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plugd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "plugd.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "plugd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("plugd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("plugd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage. Sessions do not survive restarts; Open starts from a
	// clean slate.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Media intake: downloader + ingestor over the media directory.
	fetcher := ytdlp.New(ytdlp.Options{
		BinaryPath:     cfg.Download.BinaryPath,
		SocketTimeout:  cfg.Download.SocketTimeout,
		Retries:        cfg.Download.Retries,
		Attempts:       cfg.Download.Attempts,
		AttemptTimeout: cfg.Download.AttemptTimeout,
		Constrained:    cfg.Constrained,
	})
	mediaDir := filepath.Join(cfg.Storage.DataDir, "media")
	ingestor, err := media.NewIngestor(store, fetcher, mediaDir, cfg.MaxUploadBytes(), cfg.Media.AllowedHosts)
	if err != nil {
		return fmt.Errorf("creating ingestor: %w", err)
	}

	// Orphaned artifacts from a previous run are garbage.
	if err := ingestor.Sweep(ctx); err != nil {
		slog.Warn("sweeping media directory", "error", err)
	}

	// Gemini analyzer.
	analyzer, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Media.MaxHistoryTurns)
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}
	defer analyzer.Close()

	mgr := session.NewManager(store, analyzer, ingestor, cfg.Gemini.AnalyzeTimeout, cfg.Gemini.ChatTimeout)

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Manager:        mgr,
		Ingestor:       ingestor,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		UI:             web.Handler(cfg.Media.MaxUploadMB, ingestor.Hosts()),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{Manager: mgr})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "plugd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
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
		printError("plugd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop plugd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to plugd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Gemini.Model)
	printStatus("Upload cap", "%d MB", cfg.Media.MaxUploadMB)
	if cfg.Constrained {
		printStatus("Mode", "constrained")
	}

	// Show session counts if server is running.
	if resp != nil && resp.StatusCode == 200 {
		videosResp, err := client.Get(serverURL + "/videos")
		if err == nil {
			var body struct {
				Videos []struct {
					Status string `json:"status"`
				} `json:"videos"`
			}
			if json.NewDecoder(videosResp.Body).Decode(&body) == nil {
				ready := 0
				for _, v := range body.Videos {
					if v.Status == string(storage.StatusReady) {
						ready++
					}
				}
				printStatus("Sessions", "%d (%d ready)", len(body.Videos), ready)
			}
			videosResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
