package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rezonia/vat-compliance/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server for the compliance workflow.

The API provides endpoints for:
  - POST /api/v1/uploads                  - Import a CSV upload
  - POST /api/v1/uploads/:id/detect       - Detect errors in an upload
  - GET  /api/v1/findings                 - List findings
  - GET  /api/v1/findings/:id/preview     - Preview a fix
  - POST /api/v1/findings/:id/fix         - Apply a fix
  - POST /api/v1/fixes/bulk               - Apply many fixes
  - POST /api/v1/fixes/:id/undo           - Undo a fix
  - GET  /api/v1/companies/:id/health     - Health score
  - GET  /api/v1/companies/:id/ledger     - Savings ledger
  - POST /api/v1/filings                  - Submit a period return
  - GET  /api/v1/filings/:country/:id     - Poll a submission
  - GET  /health, /metrics                - Liveness and Prometheus metrics

Examples:
  # Start server on default port
  vat-compliance serve

  # Start in debug mode
  vat-compliance serve --address :9090 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (env: VAT_ADDRESS)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "HTTP read timeout (env: VAT_READ_TIMEOUT)")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "HTTP write timeout (env: VAT_WRITE_TIMEOUT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	config := &server.Config{
		Address:        cfg.Address,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Debug:          cfg.Debug || serverDebug,
		MaxUploadBytes: int64(cfg.MaxUploadMiB) << 20,
	}
	if serverAddr != "" {
		config.Address = serverAddr
	}
	if readTimeout > 0 {
		config.ReadTimeout = readTimeout
	}
	if writeTimeout > 0 {
		config.WriteTimeout = writeTimeout
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("address", config.Address).
		Str("db", cfg.DBPath).
		Bool("enhanced_detection", cfg.EnhancedDetection).
		Bool("llm_advisor", cfg.LLMEnabled()).
		Strs("authorities", svc.Countries()).
		Msg("Starting server")

	if err := server.NewServer(config, svc).Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}
