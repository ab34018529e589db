package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/filerag/internal/api"
	"github.com/kalambet/filerag/internal/config"
	"github.com/kalambet/filerag/internal/ingest"
	"github.com/kalambet/filerag/internal/watcher"
)

const workerPollInterval = 500 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		watchDir, _ := cmd.Flags().GetString("watch")
		return runServer(cmd.Context(), withMCP, watchDir)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Upload new files dropped into a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		existing, _ := cmd.Flags().GetBool("existing")
		return runWatch(cmd.Context(), args[0], existing)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	serveCmd.Flags().String("watch", "", "directory to watch for new documents")
	watchCmd.Flags().Bool("existing", false, "also upload files already in the directory")
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "filerag.pid")
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

func runServer(ctx context.Context, withMCP bool, watchDir string) error {
	fmt.Fprintf(stderr, "filerag version %s\n", version)

	a, err := openApp(true, false)
	if err != nil {
		return err
	}
	defer a.Close()

	apiToken, err := config.EnsureAPIToken(a.cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available", "path", filepath.Join(a.cfg.Storage.DataDir, "api_token"))

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(a.cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", a.cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", a.cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	if n, err := a.history.RequeueRunningJobs(); err != nil {
		slog.Warn("requeueing interrupted uploads", "error", err)
	} else if n > 0 {
		slog.Info("requeued interrupted uploads", "count", n)
	}

	queue := ingest.NewQueue(a.history)
	handler := api.NewAppHandler(api.AppDeps{
		Store:    a.store,
		Registry: a.registry,
		Pipeline: a.pipeline,
		Log:      a.log,
		History:  a.history,
		Queue:    queue,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	worker := ingest.NewWorker(a.history, a.registry, workerPollInterval)
	go worker.Run(ctx)

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    a.store,
			Registry: a.registry,
			Pipeline: a.pipeline,
			Log:      a.log,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	if watchDir != "" {
		w := watcher.New(watchDir, a.cfg.Watch.ExtensionList(), queue, 0)
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("directory watcher stopped", "dir", watchDir, "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(stderr, "filerag listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("server is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop server (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to filerag (PID %d)", pid)
	return nil
}

// runWatch drives the watcher and the upload worker in one process, without
// the HTTP server.
func runWatch(ctx context.Context, dir string, existing bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	a, err := openApp(true, true)
	if err != nil {
		return err
	}
	defer a.Close()

	queue := ingest.NewQueue(a.history)
	w := watcher.New(dir, a.cfg.Watch.ExtensionList(), queue, 0)

	if existing {
		n, err := w.ScanExisting()
		if err != nil {
			return err
		}
		printStep("Queued %d existing file(s)", n)
	}

	worker := ingest.NewWorker(a.history, a.registry, workerPollInterval)
	go worker.Run(ctx)

	printStep("Watching %s (Ctrl-C to stop)", dir)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := healthClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		if client, err := newAPIClient(); err == nil {
			if resp, err := client.get(ctx, "/history/count"); err == nil {
				var count struct {
					Count int `json:"count"`
				}
				if decodeJSON(resp, &count) == nil {
					printStatus("Queries", "%d", count.Count)
				}
			}
		}
	}

	printStatus("Model", "%s", cfg.Gemini.Model)
	if cfg.Gemini.APIKey == "" {
		printStatus("API key", "not set")
	} else {
		printStatus("API key", "set")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Query log", "%s", cfg.QueryLog.Path)
	return nil
}
