package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airframesio/redshift-loader/cmd/compressors"
	"github.com/airframesio/redshift-loader/cmd/formatters"
	"github.com/airframesio/redshift-loader/cmd/secrets"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/redshift-loader/cmd.Version=1.2.3"
	Version = "dev"

	// signalContext is set by main() before Cobra initialization
	signalContext context.Context

	cfgFile          string
	debug            bool
	logFormat        string
	dryRun           bool
	noTUI            bool
	workers          int
	input            string
	workDir          string
	keepLocal        bool
	filePrefix       string
	stagingFormat    string
	compression      string
	compressionLevel int
	targetChunkMB    int
	minChunks        int
	s3Endpoint       string
	s3Bucket         string
	s3Path           string
	s3Region         string
	s3AccessKey      string
	s3SecretKey      string
	whSchema         string
	whTable          string
	whHost           string
	whPort           int
	whUser           string
	whPassword       string
	whName           string
	whSSLMode        string
	whConnectTimeout int
	secretsRegion    string
	credentialsName  string
	copyRoleName     string
	endpointSuffix   string
	copyIAMRole      string

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, r.Level.String(), r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// initLogger initializes the slog logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "logfmt":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = newTextOnlyHandler(os.Stdout, opts)
	}

	logger = slog.New(handler)
}

var rootCmd = &cobra.Command{
	Use:     "redshift-loader",
	Version: Version,
	Short:   "📦 Bulk load a table into Redshift through staged S3 files",
	Long: titleStyle.Render("Redshift Loader") + `

A CLI tool to bulk load a table into Amazon Redshift.
Reads a CSV, JSONL or Parquet file, splits it into partitions sized for the
cluster's slices, stages them as compressed CSV/JSONL files, uploads them to S3
in parallel and loads them with a single COPY.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a file into a Redshift table",
	Long:  `Load a file into a Redshift table. The table is dropped and recreated from the file's inferred column types, then filled with a single COPY from staged S3 files.`,
	Run: func(_ *cobra.Command, _ []string) {
		runLoad()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the current or last load",
	Run: func(_ *cobra.Command, _ []string) {
		runStatus()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(statusCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.redshift-loader.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output (disables the TUI)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")

	loadCmd.Flags().BoolVar(&dryRun, "dry-run", false, "stage locally and print what would be uploaded and loaded")
	loadCmd.Flags().BoolVar(&noTUI, "no-tui", false, "disable the progress display")
	loadCmd.Flags().IntVar(&workers, "workers", 8, "number of parallel staging/upload workers")
	loadCmd.Flags().StringVarP(&input, "input", "i", "", "input file: .csv, .jsonl, .ndjson or .parquet, optionally .gz/.zst (required)")
	loadCmd.Flags().StringVar(&workDir, "work-dir", "", "absolute local directory for staged files; emptied on every run (required)")
	loadCmd.Flags().BoolVar(&keepLocal, "keep-local", false, "keep staged files after upload")
	loadCmd.Flags().StringVar(&filePrefix, "file-prefix", "", "staged file name prefix (default: the table name)")
	loadCmd.Flags().StringVar(&stagingFormat, "staging-format", formatters.FormatCSV, "staging format: csv, jsonl")
	loadCmd.Flags().StringVar(&compression, "compression", compressors.Gzip, "compression type: gzip, zstd, none")
	loadCmd.Flags().IntVar(&compressionLevel, "compression-level", 0, "compression level (zstd: 1-22, gzip: 1-9, 0: default)")
	loadCmd.Flags().IntVar(&targetChunkMB, "target-chunk-mb", defaultTargetChunkMB, "in-memory size each partition aims for, in MB")
	loadCmd.Flags().IntVar(&minChunks, "min-chunks", defaultMinChunks, "minimum number of partitions (match the cluster's slice count)")

	loadCmd.Flags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL (default: AWS)")
	loadCmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket for staged files (required)")
	loadCmd.Flags().StringVar(&s3Path, "s3-path", "redshift-loader/{schema}/{table}", "S3 key prefix with placeholders: {schema}, {table}, {YYYY}, {MM}, {DD}, {HH}")
	loadCmd.Flags().StringVar(&s3Region, "s3-region", "", "S3 bucket region (default: the secrets region)")
	loadCmd.Flags().StringVar(&s3AccessKey, "s3-access-key", "", "S3 access key (default: AWS credential chain)")
	loadCmd.Flags().StringVar(&s3SecretKey, "s3-secret-key", "", "S3 secret key")

	loadCmd.Flags().StringVar(&whSchema, "schema", "public", "target schema")
	loadCmd.Flags().StringVar(&whTable, "table", "", "target table (required)")
	loadCmd.Flags().StringVar(&whHost, "db-host", "", "Redshift host (when no credentials secret is used)")
	loadCmd.Flags().IntVar(&whPort, "db-port", 5439, "Redshift port")
	loadCmd.Flags().StringVar(&whUser, "db-user", "", "Redshift user")
	loadCmd.Flags().StringVar(&whPassword, "db-password", "", "Redshift password")
	loadCmd.Flags().StringVar(&whName, "db-name", "", "Redshift database name")
	loadCmd.Flags().StringVar(&whSSLMode, "db-sslmode", "require", "SSL mode (disable, require, verify-ca, verify-full)")
	loadCmd.Flags().IntVar(&whConnectTimeout, "db-connect-timeout", 30, "connection timeout in seconds (0 = none)")

	loadCmd.Flags().StringVar(&secretsRegion, "secrets-region", secrets.DefaultRegion, "Secrets Manager region")
	loadCmd.Flags().StringVar(&credentialsName, "credentials-secret", "", "secret holding host/port/dbName/username/password")
	loadCmd.Flags().StringVar(&copyRoleName, "copy-role-secret", "", "secret holding the COPY IAM role ("+secrets.CopyRoleKey+")")
	loadCmd.Flags().StringVar(&endpointSuffix, "endpoint-suffix", "", "host suffix appended to a secret's dbClusterIdentifier")
	loadCmd.Flags().StringVar(&copyIAMRole, "iam-role", "", "IAM role ARN COPY assumes to read S3")

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in config.Validate() which runs after all config sources are loaded.

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	for key, flag := range map[string]string{
		"dry_run":                   "dry-run",
		"no_tui":                    "no-tui",
		"workers":                   "workers",
		"input":                     "input",
		"work_dir":                  "work-dir",
		"keep_local":                "keep-local",
		"file_prefix":               "file-prefix",
		"staging_format":            "staging-format",
		"compression":               "compression",
		"compression_level":         "compression-level",
		"target_chunk_mb":           "target-chunk-mb",
		"min_chunks":                "min-chunks",
		"s3.endpoint":               "s3-endpoint",
		"s3.bucket":                 "s3-bucket",
		"s3.path":                   "s3-path",
		"s3.region":                 "s3-region",
		"s3.access_key":             "s3-access-key",
		"s3.secret_key":             "s3-secret-key",
		"warehouse.schema":          "schema",
		"warehouse.table":           "table",
		"warehouse.host":            "db-host",
		"warehouse.port":            "db-port",
		"warehouse.user":            "db-user",
		"warehouse.password":        "db-password",
		"warehouse.name":            "db-name",
		"warehouse.sslmode":         "db-sslmode",
		"warehouse.connect_timeout": "db-connect-timeout",
		"secrets.region":            "secrets-region",
		"secrets.credentials_name":  "credentials-secret",
		"secrets.copy_role_name":    "copy-role-secret",
		"secrets.endpoint_suffix":   "endpoint-suffix",
		"copy.iam_role":             "iam-role",
	} {
		_ = viper.BindPFlag(key, loadCmd.Flags().Lookup(flag))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".redshift-loader")
	}

	viper.SetEnvPrefix("RSLOAD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		if logger == nil {
			initLogger(debug, logFormat)
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// configFromViper assembles the load configuration from flags, env and the config file
func configFromViper() *Config {
	config := &Config{
		Debug:            viper.GetBool("debug"),
		LogFormat:        viper.GetString("log_format"),
		DryRun:           viper.GetBool("dry_run"),
		NoTUI:            viper.GetBool("no_tui"),
		Workers:          viper.GetInt("workers"),
		Input:            viper.GetString("input"),
		WorkDir:          viper.GetString("work_dir"),
		KeepLocal:        viper.GetBool("keep_local"),
		FilePrefix:       viper.GetString("file_prefix"),
		StagingFormat:    viper.GetString("staging_format"),
		Compression:      viper.GetString("compression"),
		CompressionLevel: viper.GetInt("compression_level"),
		TargetChunkMB:    viper.GetInt("target_chunk_mb"),
		MinChunks:        viper.GetInt("min_chunks"),
		S3: S3Config{
			Endpoint:  viper.GetString("s3.endpoint"),
			Bucket:    viper.GetString("s3.bucket"),
			Path:      viper.GetString("s3.path"),
			Region:    viper.GetString("s3.region"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
		},
		Warehouse: WarehouseConfig{
			Schema:         viper.GetString("warehouse.schema"),
			Table:          viper.GetString("warehouse.table"),
			Host:           viper.GetString("warehouse.host"),
			Port:           viper.GetInt("warehouse.port"),
			User:           viper.GetString("warehouse.user"),
			Password:       viper.GetString("warehouse.password"),
			Name:           viper.GetString("warehouse.name"),
			SSLMode:        viper.GetString("warehouse.sslmode"),
			ConnectTimeout: viper.GetInt("warehouse.connect_timeout"),
		},
		Secrets: SecretsConfig{
			Region:          viper.GetString("secrets.region"),
			CredentialsName: viper.GetString("secrets.credentials_name"),
			CopyRoleName:    viper.GetString("secrets.copy_role_name"),
			EndpointSuffix:  viper.GetString("secrets.endpoint_suffix"),
		},
		Copy: CopyConfig{
			IAMRole: viper.GetString("copy.iam_role"),
		},
	}
	if config.FilePrefix == "" {
		config.FilePrefix = config.Warehouse.Table
	}
	return config
}

func runLoad() {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := configFromViper()

	initLogger(config.Debug, config.LogFormat)

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Redshift Loader v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}
	logger.Debug("Configuration validated successfully")
	printConfig(config)

	if config.Debug {
		fmt.Fprintln(os.Stderr, "\n"+infoStyle.Render("💡 Press CTRL-C to stop after the running tasks finish"))
	}

	ctx := signalContext
	if ctx == nil {
		logger.Warn("Signal context not set, creating fallback...")
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	// Force exit if the running tasks do not finish in time
	exited := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("")
		logger.Info("⚠️  Interrupt signal received, stopping after running tasks...")

		select {
		case <-exited:
			return
		case <-time.After(2 * time.Minute):
			logger.Error("⚠️  Graceful shutdown timed out, forcing exit...")
			os.Exit(130)
		}
	}()

	logger.Debug("Creating loader...")
	loader := NewLoader(config, logger)
	err := loader.Run(ctx)
	close(exited)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Load cancelled by user")
			os.Exit(130)
		}
		logger.Error(fmt.Sprintf("❌ Load failed: %s", err.Error()))
		os.Exit(1)
	}

	logger.Info("")
	logger.Info("✅ Load completed successfully!")
}

func runStatus() {
	initLogger(viper.GetBool("debug"), viper.GetString("log_format"))

	info, err := ReadRunInfo()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("💤 No load has been recorded")
			return
		}
		logger.Error(fmt.Sprintf("❌ Failed to read run status: %s", err.Error()))
		os.Exit(1)
	}

	running := false
	if pid, err := ReadPIDFile(); err == nil && pid == info.PID {
		running = IsProcessRunning(pid)
	}

	for _, line := range formatStatus(info, running, time.Now()) {
		logger.Info(line)
	}
}

// formatStatus renders a run file for the status command
func formatStatus(info *RunInfo, running bool, now time.Time) []string {
	activity := "⏹️  Not running"
	if running {
		activity = fmt.Sprintf("▶️  Running (pid %d)", info.PID)
	}
	return []string{
		fmt.Sprintf("📦 %s.%s", info.Schema, info.Table),
		activity,
		fmt.Sprintf("🆔 Run: %s", info.RunID),
		fmt.Sprintf("📍 State: %s", info.State),
		fmt.Sprintf("🧩 Staged %d/%d, uploaded %d/%d", info.Staged, info.Partitions, info.Uploaded, info.Partitions),
		fmt.Sprintf("✅ Rows loaded: %d", info.RowsLoaded),
		fmt.Sprintf("🕒 Started %s, updated %s ago",
			info.StartTime.Format("2006-01-02 15:04:05"), now.Sub(info.LastUpdate).Round(time.Second)),
	}
}
