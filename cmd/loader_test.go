package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"

	"github.com/airframesio/redshift-loader/cmd/compressors"
	"github.com/airframesio/redshift-loader/cmd/loaderr"
	"github.com/airframesio/redshift-loader/cmd/pipeline"
	"github.com/airframesio/redshift-loader/cmd/table"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSecrets struct {
	secretsmanageriface.SecretsManagerAPI
	values map[string]string
	calls  int
}

func (f *fakeSecrets) GetSecretValueWithContext(_ aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v, ok := f.values[aws.StringValue(in.SecretId)]
	if !ok {
		return nil, awserr.New(secretsmanager.ErrCodeResourceNotFoundException, "not found", nil)
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

const inputCSV = "id,symbol,price,note\n1,AAPL,187.5,first\n2,MSFT,402.25,\n3,\"GOOG, Inc\",141,third\n"

func writeInput(t *testing.T, name string, compression string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	compressor, err := compressors.GetCompressor(compression)
	if err != nil {
		t.Fatal(err)
	}
	w, err := compressor.NewWriter(f, compressor.DefaultLevel())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, inputCSV); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadInput(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		compression string
	}{
		{"plain", "trades.csv", compressors.None},
		{"gzip", "trades.csv.gz", compressors.Gzip},
		{"zstd", "trades.csv.zst", compressors.Zstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := readInput(writeInput(t, tt.file, tt.compression))
			if err != nil {
				t.Fatal(err)
			}
			if tbl.Len() != 3 {
				t.Fatalf("expected 3 rows, got %d", tbl.Len())
			}

			want := []table.Type{table.TypeInt, table.TypeString, table.TypeFloat, table.TypeString}
			for i, c := range tbl.Columns() {
				if c.Type != want[i] {
					t.Errorf("column %s: expected %s, got %s", c.Name, want[i], c.Type)
				}
			}
			if got := tbl.Row(2)[1]; got != "GOOG, Inc" {
				t.Errorf("expected quoted field to survive, got %v", got)
			}
			if got := tbl.Row(1)[3]; got != nil {
				t.Errorf("expected empty field to be null, got %v", got)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		if _, err := readInput(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
			t.Fatal("expected error for a missing file")
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := readInput("trades.txt"); err == nil {
			t.Fatal("expected error for an unknown format")
		}
	})
}

func TestAuthorization(t *testing.T) {
	fake := &fakeSecrets{values: map[string]string{
		"copy-role": `{"iam_role_copy_command_access":" arn:aws:iam::123:role/copy "}`,
	}}

	t.Run("flag wins", func(t *testing.T) {
		config := newValidConfig(t)
		config.Secrets.CopyRoleName = "copy-role"
		l := &Loader{config: config, logger: newTestLogger(), secretsAPI: fake}

		auth, err := l.authorization(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if auth.IAMRole != "arn:aws:iam::123456789012:role/copy" {
			t.Fatalf("unexpected role %s", auth.IAMRole)
		}
	})

	t.Run("secret", func(t *testing.T) {
		config := newValidConfig(t)
		config.Copy.IAMRole = ""
		config.Secrets.CopyRoleName = "copy-role"
		l := &Loader{config: config, logger: newTestLogger(), secretsAPI: fake}

		auth, err := l.authorization(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if auth.IAMRole != "arn:aws:iam::123:role/copy" {
			t.Fatalf("unexpected role %q", auth.IAMRole)
		}
	})

	t.Run("static keys", func(t *testing.T) {
		config := newValidConfig(t)
		config.Copy.IAMRole = ""
		config.S3.AccessKey = "AKIA"
		config.S3.SecretKey = "secret"
		l := &Loader{config: config, logger: newTestLogger()}

		auth, err := l.authorization(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if auth.AccessKeyID != "AKIA" || auth.SecretAccessKey != "secret" || auth.IAMRole != "" {
			t.Fatalf("unexpected authorization %+v", auth)
		}
	})

	t.Run("missing secret", func(t *testing.T) {
		config := newValidConfig(t)
		config.Copy.IAMRole = ""
		config.Secrets.CopyRoleName = "absent"
		l := &Loader{config: config, logger: newTestLogger(), secretsAPI: fake}

		if _, err := l.authorization(context.Background()); !errors.Is(err, loaderr.ErrCredential) {
			t.Fatalf("expected ErrCredential, got %v", err)
		}
	})
}

func TestConnectionConfig(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		config := newValidConfig(t)
		config.Warehouse.Password = "pw"
		config.Warehouse.SSLMode = "require"
		fake := &fakeSecrets{}
		l := &Loader{config: config, logger: newTestLogger(), secretsAPI: fake}

		cfg, err := l.connectionConfig(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Host != "cluster.example.com" || cfg.Port != 5439 || cfg.Database != "analytics" || cfg.Password != "pw" {
			t.Fatalf("unexpected config %+v", cfg)
		}
		if fake.calls != 0 {
			t.Fatal("secrets should not be read when no secret is configured")
		}
	})

	t.Run("secret", func(t *testing.T) {
		config := newValidConfig(t)
		config.Secrets.CredentialsName = "warehouse"
		config.Secrets.EndpointSuffix = "123.us-west-2.redshift-serverless.amazonaws.com"
		config.Warehouse.ConnectTimeout = 30
		fake := &fakeSecrets{values: map[string]string{
			"warehouse": `{"dbClusterIdentifier":"wg","port":"5440","dbName":"dev","username":"loader","password":"pw"}`,
		}}
		l := &Loader{config: config, logger: newTestLogger(), secretsAPI: fake}

		cfg, err := l.connectionConfig(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Host != "wg.123.us-west-2.redshift-serverless.amazonaws.com" || cfg.Port != 5440 {
			t.Fatalf("unexpected host %s:%d", cfg.Host, cfg.Port)
		}
		if cfg.User != "loader" || cfg.Database != "dev" || cfg.ConnectTimeout != 30 {
			t.Fatalf("unexpected config %+v", cfg)
		}
	})
}

func TestS3AWSConfig(t *testing.T) {
	cfg := s3AWSConfig(S3Config{Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "b"}, "us-west-2")
	if aws.StringValue(cfg.Region) != "us-west-2" {
		t.Errorf("expected fallback region, got %s", aws.StringValue(cfg.Region))
	}
	if aws.StringValue(cfg.Endpoint) != "http://localhost:9000" || !aws.BoolValue(cfg.S3ForcePathStyle) {
		t.Error("custom endpoints should use path-style addressing")
	}
	if cfg.Credentials == nil {
		t.Error("static keys should set credentials")
	}

	cfg = s3AWSConfig(S3Config{Region: "eu-west-1"}, "us-west-2")
	if aws.StringValue(cfg.Region) != "eu-west-1" || cfg.Endpoint != nil || cfg.Credentials != nil {
		t.Errorf("unexpected config for the default chain: %+v", cfg)
	}
}

func TestCopyRegion(t *testing.T) {
	if got := copyRegion(S3Config{Region: "auto"}); got != "" {
		t.Errorf("auto should omit the region, got %s", got)
	}
	if got := copyRegion(S3Config{Region: "us-east-1"}); got != "us-east-1" {
		t.Errorf("expected us-east-1, got %s", got)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newTextOnlyHandler(&buf, nil))

	report := &pipeline.Report{
		RunID:   "run-1",
		State:   pipeline.StateFailed,
		Elapsed: 1500 * time.Millisecond,
	}
	runErr := &pipeline.RunError{
		Stage:     pipeline.StageUpload,
		Err:       fmt.Errorf("%w: access denied", loaderr.ErrCredential),
		Completed: []string{"events_0.csv.gz", "events_1.csv.gz"},
	}
	printSummary(log, report, runErr)

	out := buf.String()
	for _, want := range []string{
		"State: Failed",
		"Time to write table: 1.5s",
		"Failed during upload (CredentialError)",
		"events_0.csv.gz, events_1.csv.gz",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary should contain %q:\n%s", want, out)
		}
	}
}

func TestMaskString(t *testing.T) {
	tests := map[string]string{
		"":           "(not set)",
		"abc":        "****",
		"secret-key": "secr******",
	}
	for in, want := range tests {
		if got := maskString(in); got != want {
			t.Errorf("maskString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoaderDryRun(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	config := newValidConfig(t)
	config.Input = writeInput(t, "trades.csv", compressors.None)
	config.DryRun = true
	config.NoTUI = true
	config.KeepLocal = false
	config.FilePrefix = "trades"

	err := NewLoader(config, newTestLogger()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// 3 rows over 8 minimum chunks: chunk size 0, so a single partition.
	staged, err := filepath.Glob(filepath.Join(config.WorkDir, "trades-*.csv.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 1 {
		t.Fatalf("dry run should keep 1 staged file, got %v", staged)
	}

	info, err := ReadRunInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.State != string(pipeline.StateStaged) || info.Staged != 1 {
		t.Fatalf("unexpected run info %+v", info)
	}
	if _, err := ReadPIDFile(); !os.IsNotExist(err) {
		t.Fatalf("PID file should be removed after the run, got %v", err)
	}
}
