// Package pipeline sequences a load run: bootstrap, plan, stage, upload and load.
//
// Staging and uploading run as two waves on a bounded worker pool. A wave finishes
// completely before the next one starts, and the first failure ends the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/airframesio/redshift-loader/cmd/planner"
	"github.com/airframesio/redshift-loader/cmd/staging"
	"github.com/airframesio/redshift-loader/cmd/table"
	"github.com/airframesio/redshift-loader/cmd/warehouse"
)

// State is the position of a run in its linear lifecycle.
type State string

const (
	StatePending      State = "Pending"
	StateBootstrapped State = "Bootstrapped"
	StatePlanned      State = "Planned"
	StateStaged       State = "Staged"
	StateUploaded     State = "Uploaded"
	StateLoaded       State = "Loaded"
	StateFailed       State = "Failed"
)

// Stage names the step a run failed in.
type Stage string

const (
	StageBootstrap Stage = "bootstrap"
	StagePlan      Stage = "plan"
	StageStage     Stage = "stage"
	StageUpload    Stage = "upload"
	StageLoad      Stage = "load"
)

// Bootstrapper creates the empty destination table.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, ref warehouse.TableRef, tbl *table.Table) error
}

// Stager owns the local working directory and writes partitions to it.
type Stager interface {
	Reset() error
	Extension() string
	ContentType() string
	CopyOptions() (format string, compression string)
	Write(tbl *table.Table, p planner.Partition) (staging.File, error)
	Remove(files []staging.File) error
}

// Uploader owns the run prefix in the bucket.
type Uploader interface {
	Bucket() string
	Clear(ctx context.Context, prefix string) (int, error)
	Upload(ctx context.Context, path, key, contentType string) error
}

// Loader ingests every object under a prefix with one statement.
type Loader interface {
	Load(ctx context.Context, r warehouse.LoadRequest) (int64, error)
}

// Observer receives progress. Calls are serialized.
type Observer interface {
	StateChanged(state State)
	Planned(plan planner.Plan)
	Staged(file staging.File)
	Uploaded(upload Upload)
}

// Config is the per-run context.
type Config struct {
	// RunID names the run in logs and reports; a random one is used when empty.
	RunID      string
	Table      warehouse.TableRef
	Workers    int
	FilePrefix string
	// RemotePath is the key prefix (a "directory") the run's files go under.
	RemotePath       string
	TargetChunkBytes int64
	MinChunks        int
	KeepLocal        bool
	DryRun           bool
	Auth             warehouse.Authorization
	Region           string
}

// Upload is a staged file that reached the bucket.
type Upload struct {
	File staging.File
	Key  string
}

// Report describes a finished or failed run.
type Report struct {
	RunID      string
	State      State
	DryRun     bool
	Plan       planner.Plan
	Staged     []staging.File
	Uploaded   []Upload
	Cleared    int
	RowsLoaded int64
	StartTime  time.Time
	Elapsed    time.Duration
}

// BytesStaged returns the total size of the staged files.
func (r *Report) BytesStaged() int64 {
	var total int64
	for _, f := range r.Staged {
		total += f.Bytes
	}
	return total
}

// RunError is returned when a run ends in StateFailed.
type RunError struct {
	Stage Stage
	Err   error
	// Completed lists the files whose task finished in the failing wave.
	Completed []string
	Elapsed   time.Duration
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed after %s: %v", e.Stage, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Orchestrator runs the pipeline for one table.
type Orchestrator struct {
	cfg          Config
	bootstrapper Bootstrapper
	stager       Stager
	uploader     Uploader
	loader       Loader
	observer     Observer
	logger       *slog.Logger
}

// New creates an Orchestrator. observer may be nil.
func New(cfg Config, bootstrapper Bootstrapper, stager Stager, uploader Uploader, loader Loader, observer Observer, logger *slog.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{
		cfg:          cfg,
		bootstrapper: bootstrapper,
		stager:       stager,
		uploader:     uploader,
		loader:       loader,
		observer:     observer,
		logger:       logger,
	}
}

// RemoteKey joins the remote path and a file name into an object key.
func RemoteKey(remotePath, name string) string {
	remotePath = strings.Trim(remotePath, "/")
	if remotePath == "" {
		return name
	}
	return remotePath + "/" + name
}

// RunPrefix is the key prefix shared by every file of a run and nothing else the
// run writes.
func (o *Orchestrator) RunPrefix() string {
	return RemoteKey(o.cfg.RemotePath, planner.RunPrefix(o.cfg.FilePrefix))
}

// Run loads tbl. A started task or statement always finishes; cancellation of ctx
// is honoured between waves. On failure the returned error is a *RunError and the
// report holds what completed.
func (o *Orchestrator) Run(ctx context.Context, tbl *table.Table) (*Report, error) {
	runID := o.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &Report{
		RunID:     runID,
		State:     StatePending,
		DryRun:    o.cfg.DryRun,
		StartTime: time.Now(),
	}
	// Work that has begun is not interrupted by cancellation.
	work := context.WithoutCancel(ctx)

	fail := func(stage Stage, err error, completed []string) (*Report, error) {
		report.Elapsed = time.Since(report.StartTime)
		report.State = StateFailed
		o.observer.StateChanged(StateFailed)
		o.logger.Error(fmt.Sprintf("❌ Run %s failed during %s: %v", report.RunID, stage, err))
		return report, &RunError{Stage: stage, Err: err, Completed: completed, Elapsed: report.Elapsed}
	}
	advance := func(state State) {
		report.State = state
		o.observer.StateChanged(state)
	}

	o.logger.Info(fmt.Sprintf("🚀 Run %s: loading %d rows into %s", report.RunID, tbl.Len(), o.cfg.Table))

	if o.cfg.DryRun {
		drop, create, _, _, _ := warehouse.Statements(o.cfg.Table, tbl.Columns())
		o.logger.Info(fmt.Sprintf("🧪 Dry run: would run %s; %s", drop, create))
	} else if err := o.bootstrapper.Bootstrap(work, o.cfg.Table, tbl); err != nil {
		return fail(StageBootstrap, err, nil)
	}
	advance(StateBootstrapped)

	if err := ctx.Err(); err != nil {
		return fail(StagePlan, err, nil)
	}
	report.Plan = planner.New(tbl.Len(), tbl.EstimatedSize(), planner.Options{
		TargetChunkBytes: o.cfg.TargetChunkBytes,
		MinChunks:        o.cfg.MinChunks,
		FilePrefix:       o.cfg.FilePrefix,
		Extension:        o.stager.Extension(),
	})
	o.observer.Planned(report.Plan)
	advance(StatePlanned)
	o.logger.Info(fmt.Sprintf("📋 Planned %d partitions (%d chunks of %d rows, ~%.2f MB in memory)",
		len(report.Plan.Partitions), report.Plan.NumChunks, report.Plan.ChunkSize,
		float64(report.Plan.SizeBytes)/(1024*1024)))

	if len(report.Plan.Partitions) == 0 {
		// Nothing to stage: the bootstrapped table is already the final state.
		o.logger.Info(fmt.Sprintf("✅ %s has no rows; table created empty", o.cfg.Table))
		advance(StateLoaded)
		report.Elapsed = time.Since(report.StartTime)
		return report, nil
	}

	if err := ctx.Err(); err != nil {
		return fail(StageStage, err, nil)
	}
	if err := o.stager.Reset(); err != nil {
		return fail(StageStage, err, nil)
	}
	staged, err := runWave(ctx, o.cfg.Workers, report.Plan.Partitions,
		func(p planner.Partition) (staging.File, error) {
			return o.stager.Write(tbl, p)
		},
		o.observer.Staged)
	sort.Slice(staged, func(i, j int) bool { return staged[i].Partition.Index < staged[j].Partition.Index })
	report.Staged = staged
	if err != nil {
		return fail(StageStage, err, stagedNames(staged))
	}
	advance(StateStaged)
	o.logger.Info(fmt.Sprintf("📦 Staged %d files (%.2f MB)", len(staged), float64(report.BytesStaged())/(1024*1024)))

	if err := ctx.Err(); err != nil {
		return fail(StageUpload, err, nil)
	}

	request := o.loadRequest(tbl)
	if o.cfg.DryRun {
		return o.dryRun(report, request)
	}

	cleared, err := o.uploader.Clear(work, request.Prefix)
	if err != nil {
		return fail(StageUpload, err, nil)
	}
	report.Cleared = cleared

	contentType := o.stager.ContentType()
	uploaded, err := runWave(ctx, o.cfg.Workers, staged,
		func(f staging.File) (Upload, error) {
			key := RemoteKey(o.cfg.RemotePath, f.Name)
			if err := o.uploader.Upload(work, f.Path, key, contentType); err != nil {
				return Upload{}, err
			}
			return Upload{File: f, Key: key}, nil
		},
		o.observer.Uploaded)
	sort.Slice(uploaded, func(i, j int) bool { return uploaded[i].File.Partition.Index < uploaded[j].File.Partition.Index })
	report.Uploaded = uploaded
	if err != nil {
		return fail(StageUpload, err, uploadedKeys(uploaded))
	}
	advance(StateUploaded)
	o.logger.Info(fmt.Sprintf("☁️  Uploaded %d files to s3://%s/%s*", len(uploaded), o.uploader.Bucket(), request.Prefix))

	if !o.cfg.KeepLocal {
		if err := o.stager.Remove(staged); err != nil {
			o.logger.Warn(fmt.Sprintf("⚠️  %v", err))
		}
	}

	if err := ctx.Err(); err != nil {
		return fail(StageLoad, err, nil)
	}
	loaded, err := o.loader.Load(work, request)
	report.RowsLoaded = loaded
	if err != nil {
		return fail(StageLoad, err, nil)
	}
	advance(StateLoaded)

	report.Elapsed = time.Since(report.StartTime)
	o.logger.Info(fmt.Sprintf("✅ Loaded %d rows into %s", loaded, o.cfg.Table))
	o.logger.Info(fmt.Sprintf("⏱️  Time to write table: %s", report.Elapsed.Round(time.Millisecond)))
	return report, nil
}

func (o *Orchestrator) loadRequest(tbl *table.Table) warehouse.LoadRequest {
	copyFormat, copyCompress := o.stager.CopyOptions()
	return warehouse.LoadRequest{
		Table:        o.cfg.Table,
		Columns:      tbl.Columns(),
		Bucket:       o.uploader.Bucket(),
		Prefix:       o.RunPrefix(),
		Auth:         o.cfg.Auth,
		CopyFormat:   copyFormat,
		CopyCompress: copyCompress,
		Region:       o.cfg.Region,
		ExpectedRows: int64(tbl.Len()),
	}
}

// dryRun reports the remote side of a run without performing it. Staged files are
// kept for inspection.
func (o *Orchestrator) dryRun(report *Report, request warehouse.LoadRequest) (*Report, error) {
	o.logger.Info(fmt.Sprintf("🧪 Dry run: would clear s3://%s/%s*", request.Bucket, request.Prefix))
	for _, f := range report.Staged {
		o.logger.Info(fmt.Sprintf("🧪 Dry run: would upload %s to s3://%s/%s",
			f.Path, request.Bucket, RemoteKey(o.cfg.RemotePath, f.Name)))
	}
	if stmt, err := warehouse.CopyStatement(request); err != nil {
		o.logger.Warn(fmt.Sprintf("⚠️  Dry run: COPY cannot be built: %v", err))
	} else {
		o.logger.Info(fmt.Sprintf("🧪 Dry run: would run %s", warehouse.MaskCredentials(stmt)))
	}

	report.Elapsed = time.Since(report.StartTime)
	return report, nil
}

func stagedNames(files []staging.File) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}

func uploadedKeys(uploads []Upload) []string {
	keys := make([]string, len(uploads))
	for i, u := range uploads {
		keys[i] = u.Key
	}
	return keys
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)   {}
func (nopObserver) Planned(planner.Plan) {}
func (nopObserver) Staged(staging.File)  {}
func (nopObserver) Uploaded(Upload)      {}
