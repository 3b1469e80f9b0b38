package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/airframesio/redshift-loader/cmd/loaderr"
	"github.com/airframesio/redshift-loader/cmd/table"
)

// Error definitions
var (
	ErrNoFiles          = errors.New("no staged files match the load prefix")
	ErrNothingLoaded    = errors.New("COPY loaded no rows")
	ErrRowCountMismatch = errors.New("COPY loaded an unexpected number of rows")
	ErrNoAuthorization  = errors.New("COPY needs an IAM role or access keys")
)

var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`IAM_ROLE '[^']*'`),
	regexp.MustCompile(`ACCESS_KEY_ID '[^']*'`),
	regexp.MustCompile(`SECRET_ACCESS_KEY '[^']*'`),
	regexp.MustCompile(`SESSION_TOKEN '[^']*'`),
}

// Authorization is how COPY reads from S3: an IAM role, or static keys.
type Authorization struct {
	IAMRole         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (a Authorization) clause() (string, error) {
	if a.IAMRole != "" {
		return "IAM_ROLE " + pq.QuoteLiteral(a.IAMRole), nil
	}
	if a.AccessKeyID == "" || a.SecretAccessKey == "" {
		return "", ErrNoAuthorization
	}
	clause := fmt.Sprintf("ACCESS_KEY_ID %s SECRET_ACCESS_KEY %s",
		pq.QuoteLiteral(a.AccessKeyID), pq.QuoteLiteral(a.SecretAccessKey))
	if a.SessionToken != "" {
		clause += " SESSION_TOKEN " + pq.QuoteLiteral(a.SessionToken)
	}
	return clause, nil
}

// LoadRequest describes one COPY.
type LoadRequest struct {
	Table   TableRef
	Columns []table.Column
	Bucket  string
	// Prefix selects every staged file of the run, e.g. "loads/trades-".
	Prefix       string
	Auth         Authorization
	CopyFormat   string
	CopyCompress string
	Region       string
	ExpectedRows int64
}

// Location returns the S3 URL COPY reads from.
func (r LoadRequest) Location() string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Prefix)
}

// CopyStatement renders the COPY for r.
func CopyStatement(r LoadRequest) (string, error) {
	auth, err := r.Auth.clause()
	if err != nil {
		return "", err
	}

	parts := []string{
		fmt.Sprintf("COPY %s (%s)", r.Table.Quoted(), quoteColumns(r.Columns)),
		"FROM " + pq.QuoteLiteral(r.Location()),
		auth,
		r.CopyFormat,
	}
	if r.CopyCompress != "" {
		parts = append(parts, r.CopyCompress)
	}
	if r.Region != "" {
		parts = append(parts, "REGION "+pq.QuoteLiteral(r.Region))
	}
	parts = append(parts, "TIMEFORMAT 'auto'")
	return strings.Join(parts, " "), nil
}

// MaskCredentials hides every credential literal of a COPY statement.
func MaskCredentials(stmt string) string {
	for _, re := range credentialPatterns {
		keyword := strings.SplitN(re.String(), " ", 2)[0]
		stmt = re.ReplaceAllString(stmt, keyword+" '***'")
	}
	return stmt
}

// ObjectCounter counts the objects under a prefix of the load bucket.
type ObjectCounter interface {
	Count(ctx context.Context, prefix string) (int, error)
}

// Loader issues the COPY that ingests every staged file of a run at once.
type Loader struct {
	db      *sql.DB
	objects ObjectCounter
	logger  *slog.Logger
}

// NewLoader creates a Loader
func NewLoader(db *sql.DB, objects ObjectCounter, logger *slog.Logger) *Loader {
	return &Loader{db: db, objects: objects, logger: logger}
}

// Load runs one COPY for r.Prefix and returns the number of rows it loaded. A prefix
// without objects, a load of zero rows, or a row count different from r.ExpectedRows
// is a load error.
func (l *Loader) Load(ctx context.Context, r LoadRequest) (int64, error) {
	stmt, err := CopyStatement(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", loaderr.ErrCredential, err)
	}

	files, err := l.objects.Count(ctx, r.Prefix)
	if err != nil {
		return 0, err
	}
	if files == 0 {
		return 0, fmt.Errorf("%w: %w: %s", loaderr.ErrLoad, ErrNoFiles, r.Location())
	}

	l.logger.Info(fmt.Sprintf("🚚 Loading %d files from %s into %s", files, r.Location(), r.Table))
	l.logger.Debug(fmt.Sprintf("  %s", MaskCredentials(stmt)))

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err, loaderr.ErrLoad, "failed to begin load of %s", r.Table)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return 0, classify(err, loaderr.ErrLoad, "COPY into %s from %s failed", r.Table, r.Location())
	}

	var loaded int64
	if err := tx.QueryRowContext(ctx, "SELECT pg_last_copy_count()").Scan(&loaded); err != nil {
		return 0, classify(err, loaderr.ErrLoad, "failed to read COPY row count for %s", r.Table)
	}
	if loaded == 0 {
		return 0, fmt.Errorf("%w: %w: %s", loaderr.ErrLoad, ErrNothingLoaded, r.Location())
	}
	if r.ExpectedRows > 0 && loaded != r.ExpectedRows {
		return loaded, fmt.Errorf("%w: %w: got %d, want %d", loaderr.ErrLoad, ErrRowCountMismatch, loaded, r.ExpectedRows)
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err, loaderr.ErrLoad, "failed to commit load of %s", r.Table)
	}
	return loaded, nil
}
