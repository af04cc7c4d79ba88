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

	"github.com/kalambet/tabchat/internal/api"
	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tabchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		embedUploads, _ := cmd.Flags().GetBool("embed-uploads")
		skipModelCheck, _ := cmd.Flags().GetBool("skip-model-check")
		return runServer(serveOptions{mcp: withMCP, embedUploads: embedUploads, skipModelCheck: skipModelCheck})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tabchat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tabchat server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(commandContext(cmd))
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	serveCmd.Flags().Bool("embed-uploads", false, "also embed uploaded rows into the configured vector collection")
	serveCmd.Flags().Bool("skip-model-check", false, "do not check or pull models at startup")
}

type serveOptions struct {
	mcp            bool
	embedUploads   bool
	skipModelCheck bool
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tabchat.pid")
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

func runServer(opts serveOptions) error {
	fmt.Fprintf(os.Stderr, "tabchat version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tabchat is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tabchat is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if !opts.skipModelCheck {
		if err := engine.EnsureReady(ctx, a.engine, cfg.Engine.ChatModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
			return err
		}
	}
	if cfg.Search.TavilyAPIKey == "" {
		slog.Warn("TABCHAT_SEARCH_TAVILY_API_KEY is not set; web_search will return errors")
	}
	if cfg.API.Token == "" {
		slog.Info("API bearer auth disabled (TABCHAT_API_TOKEN not set)")
	}

	conv := a.orchestrator(nil)

	upload := api.UploadOptions{Mode: cfg.Relational.WriteMode}
	var vectors ingest.RowEmbedder
	if opts.embedUploads {
		upload.Collection = cfg.Vector.Collection
		vectors = a.vectorPipeline()
	}

	handler := api.NewHandler(api.Deps{
		Registry:       a.registry,
		Chat:           conv,
		Threads:        a.threads,
		Jobs:           a.store,
		Vectors:        a.vectors,
		DataDir:        cfg.Storage.DataDir,
		DefaultProfile: cfg.Relational.DefaultProfile,
		Upload:         upload,
		Token:          cfg.API.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start ingest worker.
	worker := ingest.NewWorker(a.store, a.sqlPipeline(), vectors, 500*time.Millisecond)
	go worker.Run(ctx)

	if opts.mcp {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Registry: a.registry,
			Chat:     conv,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tabchat listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
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
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("tabchat is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tabchat (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tabchat (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running at %s", client.baseURL)

	var tables struct {
		Profile string   `json:"profile"`
		Tables  []string `json:"tables"`
	}
	if resp, err := client.get(ctx, "/tables"); err == nil {
		if decodeJSON(resp, &tables) == nil {
			printStatus("Tables", "%d in profile %s", len(tables.Tables), tables.Profile)
		}
	}

	var collections struct {
		Collections []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"collections"`
	}
	if resp, err := client.get(ctx, "/collections"); err == nil {
		if decodeJSON(resp, &collections) == nil {
			for _, c := range collections.Collections {
				printStatus("Collection", "%s (%d rows)", c.Name, c.Count)
			}
		}
	}
	return nil
}
