package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/finsql-engine/pkg/app"
	"github.com/ekaya-inc/finsql-engine/pkg/config"
	"github.com/ekaya-inc/finsql-engine/pkg/logging"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// Version is set at build time via ldflags
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "finsql-engine",
	Short:         "Answer natural-language questions about SEC filings with SQL",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP query API, health, metrics and MCP endpoints",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question and print the response",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and probe the store and language model providers",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var (
	configPath  string
	debugFlag   bool
	historyFlag string
	jsonFlag    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	askCmd.Flags().BoolVar(&debugFlag, "debug", false, "include entities, stage and reason codes in the metadata")
	askCmd.Flags().StringVar(&historyFlag, "history", "", "JSON file with earlier turns: [{\"role\":\"user\",\"text\":\"...\"}]")
	askCmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full JSON response instead of the answer")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration, builds the logger and wires the application.
func bootstrap(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = a.Logger.Sync() }()

	cfg, logger := a.Config, a.Logger
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting finsql-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	q := models.Question{Text: strings.Join(args, " "), Debug: debugFlag}
	if historyFlag != "" {
		history, err := readHistory(historyFlag)
		if err != nil {
			return err
		}
		q.History = history
	}

	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = a.Logger.Sync() }()

	resp := a.Service.Run(cmd.Context(), q)
	return printResponse(cmd.OutOrStdout(), resp, jsonFlag || debugFlag)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = a.Logger.Sync() }()

	err = a.MCPServer().ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() { _ = a.Logger.Sync() }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config:    ok (%s)\n", configPath)
	fmt.Fprintf(out, "templates: %d\n", a.Registry.Len())

	var compiled []string
	for _, d := range datasource.Drivers() {
		compiled = append(compiled, d.Name)
	}
	fmt.Fprintf(out, "drivers:   %s\n", strings.Join(compiled, ", "))

	storeErr := a.Store.TestConnection(ctx)
	if storeErr != nil {
		fmt.Fprintf(out, "store:     %s FAILED: %s\n", a.Config.Store.Driver, logging.SanitizeError(storeErr))
	} else {
		fmt.Fprintf(out, "store:     %s ok\n", a.Config.Store.Driver)
	}

	var llmErr error
	if a.Gateway.Configured() {
		probe := a.Gateway.Probe(ctx, a.Config.LLM.Timeout)
		fmt.Fprintf(out, "llm:       %s\n", probe.LLMMessage)
		if probe.EmbeddingMessage != "" {
			fmt.Fprintf(out, "embedding: %s\n", probe.EmbeddingMessage)
		}
		if !probe.Success {
			llmErr = errors.New(probe.Message)
		}
	} else {
		fmt.Fprintln(out, "llm:       not configured (template questions only)")
	}

	if storeErr != nil {
		return errors.New("store check failed")
	}
	if llmErr != nil {
		return fmt.Errorf("llm check failed: %w", llmErr)
	}
	return nil
}

func readHistory(path string) ([]models.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var turns []models.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	return turns, nil
}

func printResponse(w io.Writer, resp models.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintln(w, resp.Answer)
	if resp.Presentation != nil && resp.Presentation.Narrative != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, resp.Presentation.Narrative)
	}
	if resp.SQL != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, *resp.SQL)
	}
	if !resp.Success {
		return errors.New("question not answered")
	}
	return nil
}
