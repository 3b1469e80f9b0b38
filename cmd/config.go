package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/airframesio/redshift-loader/cmd/compressors"
	"github.com/airframesio/redshift-loader/cmd/formatters"
)

// Static errors for configuration validation
var (
	ErrInputRequired            = errors.New("input file is required")
	ErrInputFormatInvalid       = errors.New("input file must be .csv, .jsonl, .ndjson or .parquet (optionally .gz or .zst)")
	ErrWorkDirRequired          = errors.New("work dir is required")
	ErrWorkDirNotAbsolute       = errors.New("work dir must be an absolute path")
	ErrWorkDirUnsafe            = errors.New("work dir must not be / or the home directory: its contents are deleted on every run")
	ErrS3BucketRequired         = errors.New("S3 bucket is required")
	ErrS3RegionInvalid          = errors.New("S3 region contains invalid characters or is too long")
	ErrS3KeysIncomplete         = errors.New("S3 access key and secret key must be given together")
	ErrPathTemplateInvalid      = errors.New("S3 path contains an unknown placeholder")
	ErrSchemaNameInvalid        = errors.New("schema name is invalid: must be 1-127 characters, start with a letter or underscore, and contain only letters, numbers, and underscores")
	ErrTableNameRequired        = errors.New("table name is required")
	ErrTableNameInvalid         = errors.New("table name is invalid: must be 1-127 characters, start with a letter or underscore, and contain only letters, numbers, and underscores")
	ErrFilePrefixInvalid        = errors.New("file prefix is invalid: must be 1-127 characters, start with a letter or underscore, and contain only letters, numbers, and underscores")
	ErrWarehouseHostRequired    = errors.New("warehouse host is required when no credentials secret is given")
	ErrWarehouseUserRequired    = errors.New("warehouse user is required when no credentials secret is given")
	ErrWarehouseNameRequired    = errors.New("warehouse database name is required when no credentials secret is given")
	ErrWarehousePortInvalid     = errors.New("warehouse port must be between 1 and 65535")
	ErrConnectTimeoutInvalid    = errors.New("warehouse connect timeout must be >= 0")
	ErrCopyAuthRequired         = errors.New("COPY needs an IAM role (copy.iam_role or secrets.copy_role_name) or S3 access keys")
	ErrWorkersMinimum           = errors.New("workers must be at least 1")
	ErrWorkersMaximum           = errors.New("workers must not exceed 1000")
	ErrStagingFormatInvalid     = errors.New("staging format must be one of: csv, jsonl")
	ErrCompressionInvalid       = errors.New("compression must be one of: gzip, zstd, none")
	ErrCompressionLevelInvalid  = errors.New("compression level must be between 1 and 22 (zstd), 1-9 (gzip), 0 (none)")
	ErrTargetChunkSizeInvalid   = errors.New("target chunk size must be between 1 and 65536 MB")
	ErrMinChunksInvalid         = errors.New("min chunks must be between 1 and 10000")
	ErrSecretsRegionInvalid     = errors.New("secrets region contains invalid characters or is too long")
	ErrCredentialsSecretMissing = errors.New("secrets endpoint suffix given without a credentials secret name")
)

const regionAuto = "auto"

// maxIdentifierLength is the warehouse's limit on identifier length in bytes.
const maxIdentifierLength = 127

type Config struct {
	Debug            bool
	LogFormat        string
	DryRun           bool
	NoTUI            bool
	Workers          int
	Input            string
	WorkDir          string
	KeepLocal        bool
	FilePrefix       string
	StagingFormat    string
	Compression      string
	CompressionLevel int
	TargetChunkMB    int
	MinChunks        int
	S3               S3Config
	Warehouse        WarehouseConfig
	Secrets          SecretsConfig
	Copy             CopyConfig
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Path      string
	Region    string
	AccessKey string
	SecretKey string
}

type WarehouseConfig struct {
	Schema   string
	Table    string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	// ConnectTimeout is in seconds
	ConnectTimeout int
}

type SecretsConfig struct {
	Region string
	// CredentialsName is the secret holding the warehouse connection parameters.
	CredentialsName string
	// CopyRoleName is the secret holding the IAM role COPY assumes to read S3.
	CopyRoleName   string
	EndpointSuffix string
}

type CopyConfig struct {
	IAMRole string
}

// validIdentifier checks if a string is a safe unquoted warehouse identifier
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var validRegion = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// isValidIdentifier validates that a name is safe to use in SQL statements and object keys
func isValidIdentifier(name string) bool {
	if name == "" || len(name) > maxIdentifierLength {
		return false
	}
	return validIdentifier.MatchString(name)
}

// isValidRegion validates that an AWS region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}
	return validRegion.MatchString(region)
}

// isValidStagingFormat reports whether COPY can read the staging format
func isValidStagingFormat(format string) bool {
	switch format {
	case formatters.FormatCSV, formatters.FormatJSONL:
		return true
	default:
		return false
	}
}

// isValidCompression validates the compression type
func isValidCompression(compression string) bool {
	validCompressions := map[string]bool{
		compressors.Zstd: true,
		compressors.Gzip: true,
		compressors.None: true,
	}
	return validCompressions[compression]
}

// isValidCompressionLevel validates compression level based on compression type.
// 0 selects the compressor's default level.
func isValidCompressionLevel(compression string, level int) bool {
	switch compression {
	case compressors.Zstd:
		return level >= 0 && level <= 22
	case compressors.Gzip:
		return level >= 0 && level <= 9
	case compressors.None:
		return level == 0
	default:
		return false
	}
}

// isUnsafeWorkDir reports whether dir is a directory the loader must never empty
func isUnsafeWorkDir(dir string) bool {
	clean := filepath.Clean(dir)
	if clean == string(filepath.Separator) {
		return true
	}
	if home, err := os.UserHomeDir(); err == nil && clean == filepath.Clean(home) {
		return true
	}
	return false
}

// UsesCredentialsSecret reports whether warehouse credentials come from the secret store
func (c *Config) UsesCredentialsSecret() bool {
	return c.Secrets.CredentialsName != ""
}

func (c *Config) Validate() error {
	if c.Input == "" {
		return ErrInputRequired
	}
	if _, err := formatters.DetectFormat(c.Input); err != nil {
		return fmt.Errorf("%w: '%s'", ErrInputFormatInvalid, c.Input)
	}

	if c.WorkDir == "" {
		return ErrWorkDirRequired
	}
	if !filepath.IsAbs(c.WorkDir) {
		return fmt.Errorf("%w: '%s'", ErrWorkDirNotAbsolute, c.WorkDir)
	}
	if isUnsafeWorkDir(c.WorkDir) {
		return fmt.Errorf("%w: '%s'", ErrWorkDirUnsafe, c.WorkDir)
	}

	// Validate S3 configuration
	if c.S3.Bucket == "" {
		return ErrS3BucketRequired
	}
	if c.S3.Region != "" && c.S3.Region != regionAuto && !isValidRegion(c.S3.Region) {
		return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return ErrS3KeysIncomplete
	}
	if err := ValidatePathTemplate(c.S3.Path); err != nil {
		return err
	}

	// Identifiers end up in SQL statements and object keys
	if !isValidIdentifier(c.Warehouse.Schema) {
		return fmt.Errorf("%w: '%s'", ErrSchemaNameInvalid, c.Warehouse.Schema)
	}
	if c.Warehouse.Table == "" {
		return ErrTableNameRequired
	}
	if !isValidIdentifier(c.Warehouse.Table) {
		return fmt.Errorf("%w: '%s'", ErrTableNameInvalid, c.Warehouse.Table)
	}
	if !isValidIdentifier(c.FilePrefix) {
		return fmt.Errorf("%w: '%s'", ErrFilePrefixInvalid, c.FilePrefix)
	}

	// Connection parameters come from a secret or from flags
	if !c.UsesCredentialsSecret() {
		if c.Secrets.EndpointSuffix != "" {
			return ErrCredentialsSecretMissing
		}
		if c.Warehouse.Host == "" {
			return ErrWarehouseHostRequired
		}
		if c.Warehouse.User == "" {
			return ErrWarehouseUserRequired
		}
		if c.Warehouse.Name == "" {
			return ErrWarehouseNameRequired
		}
		if c.Warehouse.Port < 1 || c.Warehouse.Port > 65535 {
			return fmt.Errorf("%w, got %d", ErrWarehousePortInvalid, c.Warehouse.Port)
		}
	}
	if c.Warehouse.ConnectTimeout < 0 {
		return fmt.Errorf("%w, got %d", ErrConnectTimeoutInvalid, c.Warehouse.ConnectTimeout)
	}
	if (c.UsesCredentialsSecret() || c.Secrets.CopyRoleName != "") && !isValidRegion(c.Secrets.Region) {
		return fmt.Errorf("%w: '%s'", ErrSecretsRegionInvalid, c.Secrets.Region)
	}

	if c.Copy.IAMRole == "" && c.Secrets.CopyRoleName == "" && c.S3.AccessKey == "" {
		return ErrCopyAuthRequired
	}

	// Prevent excessive resource usage
	if c.Workers < 1 {
		return ErrWorkersMinimum
	}
	if c.Workers > 1000 {
		return fmt.Errorf("%w, got %d", ErrWorkersMaximum, c.Workers)
	}

	if !isValidStagingFormat(c.StagingFormat) {
		return fmt.Errorf("%w: '%s'", ErrStagingFormatInvalid, c.StagingFormat)
	}
	if !isValidCompression(c.Compression) {
		return fmt.Errorf("%w: '%s'", ErrCompressionInvalid, c.Compression)
	}
	if !isValidCompressionLevel(c.Compression, c.CompressionLevel) {
		return fmt.Errorf("%w for compression %s: got %d", ErrCompressionLevelInvalid, c.Compression, c.CompressionLevel)
	}

	if c.TargetChunkMB < 1 || c.TargetChunkMB > 65536 {
		return fmt.Errorf("%w, got %d", ErrTargetChunkSizeInvalid, c.TargetChunkMB)
	}
	if c.MinChunks < 1 || c.MinChunks > 10000 {
		return fmt.Errorf("%w, got %d", ErrMinChunksInvalid, c.MinChunks)
	}

	return nil
}
