package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/airframesio/redshift-loader/cmd/compressors"
	"github.com/airframesio/redshift-loader/cmd/formatters"
	"github.com/airframesio/redshift-loader/cmd/loaderr"
	"github.com/airframesio/redshift-loader/cmd/pipeline"
	"github.com/airframesio/redshift-loader/cmd/planner"
	"github.com/airframesio/redshift-loader/cmd/secrets"
	"github.com/airframesio/redshift-loader/cmd/staging"
	"github.com/airframesio/redshift-loader/cmd/table"
	"github.com/airframesio/redshift-loader/cmd/uploader"
	"github.com/airframesio/redshift-loader/cmd/warehouse"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// Loader runs one load command: it reads the input, resolves credentials, wires
// the pipeline components and reports the outcome.
type Loader struct {
	config     *Config
	logger     *slog.Logger
	secretsAPI secretsmanageriface.SecretsManagerAPI
	db         *sql.DB
}

func NewLoader(config *Config, logger *slog.Logger) *Loader {
	return &Loader{
		config: config,
		logger: logger,
	}
}

func (l *Loader) tableRef() warehouse.TableRef {
	return warehouse.TableRef{Schema: l.config.Warehouse.Schema, Name: l.config.Warehouse.Table}
}

//nolint:gocognit // orchestration of the whole command
func (l *Loader) Run(ctx context.Context) error {
	if err := WritePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		_ = RemovePIDFile()
	}()

	runID := uuid.NewString()
	info := &RunInfo{
		PID:       os.Getpid(),
		RunID:     runID,
		StartTime: time.Now(),
		Schema:    l.config.Warehouse.Schema,
		Table:     l.config.Warehouse.Table,
		State:     string(pipeline.StatePending),
	}
	_ = WriteRunInfo(info)

	l.logger.Info(fmt.Sprintf("📄 Reading %s...", l.config.Input))
	readStart := time.Now()
	tbl, err := readInput(l.config.Input)
	if err != nil {
		return err
	}
	l.logger.Info(fmt.Sprintf("✅ Read %d rows × %d columns in %s", tbl.Len(), len(tbl.Columns()), time.Since(readStart).Round(time.Millisecond)))
	for _, c := range tbl.Columns() {
		l.logger.Debug(fmt.Sprintf("    %-30s %s", c.Name, warehouse.ColumnType(c.Type)))
	}

	auth, err := l.authorization(ctx)
	if err != nil {
		return err
	}

	if !l.config.DryRun {
		connCfg, err := l.connectionConfig(ctx)
		if err != nil {
			return err
		}
		l.logger.Info(fmt.Sprintf("🔌 Connecting to %s:%d/%s as %s...", connCfg.Host, connCfg.Port, connCfg.Database, connCfg.User))
		db, err := warehouse.Connect(ctx, connCfg)
		if err != nil {
			return err
		}
		l.db = db
		defer l.db.Close()
		l.logger.Info("✅ Connected to warehouse")
	}

	sess, err := session.NewSession(s3AWSConfig(l.config.S3, l.config.Secrets.Region))
	if err != nil {
		return loaderr.Wrap(loaderr.ErrConnection, err, "failed to create S3 session")
	}

	remotePath := NewPathTemplate(l.config.S3.Path).Generate(l.config.Warehouse.Schema, l.config.Warehouse.Table, time.Now().UTC())

	// In TUI mode the components log into the TUI's message log.
	useTUI := !l.config.Debug && !l.config.NoTUI
	runLogger := l.logger
	var program *tea.Program
	runCtx := ctx
	if useTUI {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		program = tea.NewProgram(newProgressModel(l.tableRef().String(), cancel), tea.WithoutSignalHandler())
		runLogger = slog.New(newTUILogHandler(slog.LevelInfo, program.Send))
	}

	stager, err := staging.New(staging.Options{
		Dir:         l.config.WorkDir,
		Format:      l.config.StagingFormat,
		Compression: l.config.Compression,
		Level:       l.config.CompressionLevel,
	}, runLogger)
	if err != nil {
		return err
	}
	objects, err := uploader.New(s3.New(sess), l.config.S3.Bucket, runLogger)
	if err != nil {
		return err
	}

	var send func(tea.Msg)
	if program != nil {
		send = program.Send
	}
	observer := newRunObserver(info, send)

	orchestrator := pipeline.New(pipeline.Config{
		RunID:            runID,
		Table:            l.tableRef(),
		Workers:          l.config.Workers,
		FilePrefix:       l.config.FilePrefix,
		RemotePath:       remotePath,
		TargetChunkBytes: int64(l.config.TargetChunkMB) * 1024 * 1024,
		MinChunks:        l.config.MinChunks,
		KeepLocal:        l.config.KeepLocal,
		DryRun:           l.config.DryRun,
		Auth:             auth,
		Region:           copyRegion(l.config.S3),
	},
		warehouse.NewBootstrapper(l.db, runLogger),
		stager,
		objects,
		warehouse.NewLoader(l.db, objects, runLogger),
		observer,
		runLogger,
	)

	l.logger.Info(fmt.Sprintf("☁️  Staging under s3://%s/%s", l.config.S3.Bucket, orchestrator.RunPrefix()))

	var report *pipeline.Report
	var runErr error
	if program == nil {
		report, runErr = orchestrator.Run(runCtx, tbl)
	} else {
		done := make(chan struct{})
		go func() {
			defer close(done)
			report, runErr = orchestrator.Run(runCtx, tbl)
			program.Send(runDoneMsg{})
		}()

		if _, err := program.Run(); err != nil {
			l.logger.Warn(fmt.Sprintf("⚠️  Progress display failed: %v", err))
		}
		<-done
	}

	if report != nil {
		observer.Loaded(report.RowsLoaded)
	}
	printSummary(l.logger, report, runErr)
	return runErr
}

// readInput loads the input file into a table, decompressing it first when its
// name ends in .gz or .zst.
func readInput(path string) (*table.Table, error) {
	format, err := formatters.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	compressor, err := compressors.GetCompressor(compressors.DetectFromFilename(path))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	r, err := compressor.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	defer r.Close()

	tbl, err := formatters.ReadTable(r, format)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return tbl, nil
}

func (l *Loader) secretsClient() (*secrets.Client, error) {
	if l.secretsAPI == nil {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(l.config.Secrets.Region)})
		if err != nil {
			return nil, loaderr.Wrap(loaderr.ErrCredential, err, "failed to create secrets session")
		}
		l.secretsAPI = secretsmanager.New(sess)
	}
	return secrets.New(l.secretsAPI, l.config.Secrets.EndpointSuffix), nil
}

// connectionConfig returns the warehouse connection parameters from the
// credentials secret, or from flags when no secret is configured.
func (l *Loader) connectionConfig(ctx context.Context) (warehouse.ConnectionConfig, error) {
	cfg := warehouse.ConnectionConfig{
		Host:           l.config.Warehouse.Host,
		Port:           l.config.Warehouse.Port,
		User:           l.config.Warehouse.User,
		Password:       l.config.Warehouse.Password,
		Database:       l.config.Warehouse.Name,
		SSLMode:        l.config.Warehouse.SSLMode,
		ConnectTimeout: l.config.Warehouse.ConnectTimeout,
	}
	if !l.config.UsesCredentialsSecret() {
		return cfg, nil
	}

	client, err := l.secretsClient()
	if err != nil {
		return cfg, err
	}
	l.logger.Debug(fmt.Sprintf("🔑 Fetching warehouse credentials from %s", l.config.Secrets.CredentialsName))
	creds, err := client.Credentials(ctx, l.config.Secrets.CredentialsName)
	if err != nil {
		return cfg, err
	}
	cfg.Host = creds.Host
	cfg.Port = creds.Port
	cfg.User = creds.User
	cfg.Password = creds.Password
	cfg.Database = creds.Database
	return cfg, nil
}

// authorization picks how COPY reads the staged files: the configured role, the
// role stored in a secret, then the S3 keys.
func (l *Loader) authorization(ctx context.Context) (warehouse.Authorization, error) {
	if l.config.Copy.IAMRole != "" {
		return warehouse.Authorization{IAMRole: l.config.Copy.IAMRole}, nil
	}
	if l.config.Secrets.CopyRoleName != "" {
		client, err := l.secretsClient()
		if err != nil {
			return warehouse.Authorization{}, err
		}
		l.logger.Debug(fmt.Sprintf("🔑 Fetching COPY role from %s", l.config.Secrets.CopyRoleName))
		role, err := client.CopyRole(ctx, l.config.Secrets.CopyRoleName)
		if err != nil {
			return warehouse.Authorization{}, err
		}
		return warehouse.Authorization{IAMRole: role}, nil
	}
	if l.config.S3.AccessKey != "" {
		return warehouse.Authorization{
			AccessKeyID:     l.config.S3.AccessKey,
			SecretAccessKey: l.config.S3.SecretKey,
		}, nil
	}
	return warehouse.Authorization{}, fmt.Errorf("%w: %w", loaderr.ErrCredential, warehouse.ErrNoAuthorization)
}

// s3AWSConfig builds the session config for the staging bucket. Without static
// keys the SDK's default credential chain applies.
func s3AWSConfig(cfg S3Config, fallbackRegion string) *aws.Config {
	region := cfg.Region
	if region == "" {
		region = fallbackRegion
	}
	awsCfg := &aws.Config{
		Region: aws.String(region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	return awsCfg
}

// copyRegion is the bucket region COPY is told about; empty lets the warehouse
// assume its own region.
func copyRegion(cfg S3Config) string {
	if cfg.Region == regionAuto {
		return ""
	}
	return cfg.Region
}

func printSummary(logger *slog.Logger, report *pipeline.Report, runErr error) {
	logger.Info("")
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Info("📈 Summary")
	if report == nil {
		return
	}

	logger.Info(fmt.Sprintf("🆔 Run: %s", report.RunID))
	logger.Info(fmt.Sprintf("📍 State: %s", report.State))
	if report.DryRun {
		logger.Info("🧪 Dry run: nothing was uploaded or loaded")
	}
	logger.Info(fmt.Sprintf("🧩 Partitions: %d", len(report.Plan.Partitions)))
	logger.Info(fmt.Sprintf("📦 Files staged: %d (%.2f MB)", len(report.Staged), float64(report.BytesStaged())/(1024*1024)))
	logger.Info(fmt.Sprintf("☁️  Files uploaded: %d", len(report.Uploaded)))
	if report.Cleared > 0 {
		logger.Info(fmt.Sprintf("🧹 Stale objects cleared: %d", report.Cleared))
	}
	logger.Info(fmt.Sprintf("✅ Rows loaded: %d", report.RowsLoaded))
	logger.Info(fmt.Sprintf("⏱️  Time to write table: %s", report.Elapsed.Round(time.Millisecond)))

	var runError *pipeline.RunError
	if errors.As(runErr, &runError) {
		logger.Error(fmt.Sprintf("❌ Failed during %s (%s): %v", runError.Stage, loaderr.Kind(runError.Err), runError.Err))
		if len(runError.Completed) > 0 {
			logger.Error(fmt.Sprintf("   Completed before the failure: %s", strings.Join(runError.Completed, ", ")))
		}
	}
}

// printConfig prints the effective configuration in debug mode
func printConfig(config *Config) {
	logger.Debug("")
	logger.Debug("📋 Configuration:")
	logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("  Warehouse:")
	logger.Debug(fmt.Sprintf("    Table:             %s.%s", config.Warehouse.Schema, config.Warehouse.Table))
	if config.UsesCredentialsSecret() {
		logger.Debug(fmt.Sprintf("    Credentials:       secret %s (%s)", config.Secrets.CredentialsName, config.Secrets.Region))
	} else {
		logger.Debug(fmt.Sprintf("    Host:              %s:%d", config.Warehouse.Host, config.Warehouse.Port))
		logger.Debug(fmt.Sprintf("    User:              %s", maskString(config.Warehouse.User)))
		logger.Debug(fmt.Sprintf("    Password:          %s", maskString(config.Warehouse.Password)))
		logger.Debug(fmt.Sprintf("    Database:          %s", config.Warehouse.Name))
	}
	logger.Debug(fmt.Sprintf("    SSL Mode:          %s", config.Warehouse.SSLMode))

	logger.Debug("  S3:")
	logger.Debug(fmt.Sprintf("    Endpoint:          %s", config.S3.Endpoint))
	logger.Debug(fmt.Sprintf("    Bucket:            %s", config.S3.Bucket))
	logger.Debug(fmt.Sprintf("    Path:              %s", config.S3.Path))
	logger.Debug(fmt.Sprintf("    Region:            %s", config.S3.Region))
	logger.Debug(fmt.Sprintf("    Access Key:        %s", maskString(config.S3.AccessKey)))
	if config.Copy.IAMRole != "" {
		logger.Debug(fmt.Sprintf("    COPY role:         %s", maskString(config.Copy.IAMRole)))
	} else if config.Secrets.CopyRoleName != "" {
		logger.Debug(fmt.Sprintf("    COPY role:         secret %s", config.Secrets.CopyRoleName))
	}

	logger.Debug("  Staging:")
	logger.Debug(fmt.Sprintf("    Input:             %s", config.Input))
	logger.Debug(fmt.Sprintf("    Work Dir:          %s", config.WorkDir))
	logger.Debug(fmt.Sprintf("    File Prefix:       %s", config.FilePrefix))
	logger.Debug(fmt.Sprintf("    Format:            %s", config.StagingFormat))
	logger.Debug(fmt.Sprintf("    Compression:       %s (level %d)", config.Compression, config.CompressionLevel))
	logger.Debug(fmt.Sprintf("    Target Chunk:      %d MB", config.TargetChunkMB))
	logger.Debug(fmt.Sprintf("    Min Chunks:        %d", config.MinChunks))
	logger.Debug(fmt.Sprintf("    Workers:           %d", config.Workers))
	logger.Debug(fmt.Sprintf("    Keep Local:        %v", config.KeepLocal))
	logger.Debug(fmt.Sprintf("    Dry Run:           %v", config.DryRun))
	logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Debug("")
}

// maskString masks sensitive strings (shows first 4 chars, rest as *)
func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

// Default sizing exposed as flag defaults.
var (
	defaultTargetChunkMB = int(planner.DefaultTargetChunkBytes / (1024 * 1024))
	defaultMinChunks     = planner.DefaultMinChunks
)
