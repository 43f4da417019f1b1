package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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

	"github.com/kalambet/siketchat/internal/api"
	"github.com/kalambet/siketchat/internal/config"
	"github.com/kalambet/siketchat/internal/notify"
	"github.com/kalambet/siketchat/internal/storage"
)

var mockBackendCmd = &cobra.Command{
	Use:   "mock-backend",
	Short: "Run a local mock of the support backend (foreground)",
	Long: `Run a local mock of the support backend (foreground).

The mock serves the chatbot API under /api/chatbot with canned replies and
records every exchange and rating in the local database. Point
backend.base_url at http://127.0.0.1:<port>/api to use it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		token, _ := cmd.Flags().GetString("token")
		origins, _ := cmd.Flags().GetStringSlice("allow-origin")
		return runMockBackend(port, token, origins)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the chat widget as an MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	mockBackendCmd.Flags().Int("port", 0, "listen port (defaults to mock.port)")
	mockBackendCmd.Flags().String("token", "", "require this bearer token on chatbot routes")
	mockBackendCmd.Flags().StringSlice("allow-origin", nil, "CORS origins allowed to call the mock (default any)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mock-backend.pid")
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

func runMockBackend(port int, token string, origins []string) error {
	fmt.Fprintf(os.Stderr, "siketchat mock-backend version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	if port == 0 {
		port = cfg.Mock.Port
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mock backend is already running (PID %d)", pid)
			return fmt.Errorf("mock backend already running (PID %d)", pid)
		}
		printWarning("something is already listening on port %d", port)
		return fmt.Errorf("port %d already in use", port)
	}
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
			printWarning("closing storage: %v", err)
		}
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewBackendHandler(api.BackendDeps{
			Store:          store,
			Token:          token,
			AllowedOrigins: origins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		printSuccess("mock backend listening on http://%s/api", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		printStep("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the MCP protocol; toasts go to the log instead.
	logNotifier := notify.Func(func(n notify.Notification) {
		slog.Info("notification", "level", n.Level, "text", n.Text)
	})
	a, err := openApp(ctx, appOptions{notifier: logNotifier})
	if err != nil {
		return err
	}
	defer a.Close()

	a.widget.Start(ctx)
	a.widget.Open()
	slog.Info("MCP server started (stdio transport)", "backend", a.client.BaseURL(), "state", a.widget.State())

	stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Widget: a.widget}))
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
