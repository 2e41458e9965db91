package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/vat-compliance/internal/compliance"
	"github.com/rezonia/vat-compliance/internal/config"
	"github.com/rezonia/vat-compliance/internal/logger"
	"github.com/rezonia/vat-compliance/internal/store"
)

var (
	version = "1.0.0"

	// Global flags
	verbose      bool
	outputFormat string
	envFile      string
	dbPath       string
	logLevel     string
	enhanced     bool
	apiKey       string
	llmBaseURL   string
	llmModel     string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vat-compliance",
	Short: "Detect, fix and file VAT compliance errors",
	Long: `VAT Compliance checks sales invoices against country VAT rules,
applies and audits corrections, and files period returns with tax authorities.

Supports:
  - Detection: wrong rates, calculation mismatches, missing VAT IDs and dates,
    cross-border B2B reverse charge
  - Remediation: preview, apply, bulk apply and undo with an audit trail
  - Filing: ELSTER (DE), DGFiP CA3 (FR), HMRC MTD (GB)

Examples:
  # Import a CSV upload and run detection
  vat-compliance ingest invoices.csv --upload-id UP-1 --detect

  # Apply a fix
  vat-compliance fix apply <finding-id> --actor alice

  # File March 2026 with ELSTER
  vat-compliance file submit --company ACME --country DE --period 2026-03 --tax-id DE123456789`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (env: VAT_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (env: LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&enhanced, "enhanced", false, "Enable heuristic detection (env: VAT_ENHANCED_DETECTION)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the LLM advisor (env: LLM_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&llmBaseURL, "llm-base-url", "", "LLM API base URL (env: LLM_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&llmModel, "llm-model", "", "LLM model for advisory review (env: LLM_MODEL)")
}

// initConfig loads env configuration; flags win over the environment
func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(envFile)
	if err != nil {
		return err
	}

	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	} else if verbose {
		cfg.LogLevel = "debug"
	}
	if cmd.Flags().Changed("enhanced") {
		cfg.EnhancedDetection = enhanced
	}
	if apiKey != "" {
		cfg.LLMAPIKey = apiKey
	}
	if llmBaseURL != "" {
		cfg.LLMBaseURL = llmBaseURL
	}
	if llmModel != "" {
		cfg.LLMModel = llmModel
	}

	return logger.Setup(cfg.GetLoggerConfig())
}

// openService opens the store and wires the service. The returned func closes the store.
func openService() (*compliance.Service, func(), error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(db)

	svc, err := compliance.Build(cfg, st)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return svc, func() { st.Close() }, nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
