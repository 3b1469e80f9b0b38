// Package planner decides how a table is split into partitions for staging.
package planner

import (
	"fmt"
)

const (
	// DefaultTargetChunkBytes is the in-memory size each partition aims for.
	DefaultTargetChunkBytes int64 = 128 * 1024 * 1024

	// DefaultMinChunks matches the warehouse's ingestion parallelism, so every slice
	// gets at least one file.
	DefaultMinChunks = 8
)

// Partition is the half-open row range [Start, End) staged as one file.
type Partition struct {
	Index    int
	Start    int
	End      int
	FileName string
}

// Rows returns the number of rows in the partition.
func (p Partition) Rows() int {
	return p.End - p.Start
}

// Options controls the sizing heuristic. Zero values fall back to the defaults.
type Options struct {
	TargetChunkBytes int64
	MinChunks        int
	FilePrefix       string
	// Extension is appended to each file name, e.g. ".csv.gz".
	Extension string
}

// Plan is the partitioning scheme for one run.
type Plan struct {
	TotalRows  int
	SizeBytes  int64
	NumChunks  int
	ChunkSize  int
	Partitions []Partition
}

// NumChunks returns max(ceil(sizeBytes/target), minChunks).
func NumChunks(sizeBytes, target int64, minChunks int) int {
	if target <= 0 {
		target = DefaultTargetChunkBytes
	}
	if minChunks <= 0 {
		minChunks = DefaultMinChunks
	}
	n := 0
	if sizeBytes > 0 {
		n = int((sizeBytes + target - 1) / target)
	}
	if n < minChunks {
		n = minChunks
	}
	return n
}

// New plans partitions for totalRows rows occupying sizeBytes in memory.
//
// Exactly NumChunks partitions of ChunkSize rows are emitted, then the remainder
// (fewer than NumChunks rows) becomes one final partition, so the partitions always
// cover [0, totalRows) without gaps or overlap. When the table has fewer rows than
// NumChunks, ChunkSize is 0 and the whole table is a single partition.
func New(totalRows int, sizeBytes int64, opts Options) Plan {
	plan := Plan{
		TotalRows: totalRows,
		SizeBytes: sizeBytes,
		NumChunks: NumChunks(sizeBytes, opts.TargetChunkBytes, opts.MinChunks),
	}
	if totalRows <= 0 {
		plan.TotalRows = 0
		return plan
	}
	plan.ChunkSize = totalRows / plan.NumChunks

	start := 0
	if plan.ChunkSize > 0 {
		for i := 0; i < plan.NumChunks; i++ {
			plan.Partitions = append(plan.Partitions, plan.partition(opts, start, start+plan.ChunkSize))
			start += plan.ChunkSize
		}
	}
	if start < totalRows {
		plan.Partitions = append(plan.Partitions, plan.partition(opts, start, totalRows))
	}

	return plan
}

func (p *Plan) partition(opts Options, start, end int) Partition {
	index := len(p.Partitions)
	return Partition{
		Index:    index,
		Start:    start,
		End:      end,
		FileName: FileName(opts.FilePrefix, index, opts.Extension),
	}
}

// Separator joins the file prefix and the partition index. File prefixes are
// identifiers and cannot contain it, so "<prefix>-" never matches another prefix's files.
const Separator = "-"

// FileName builds the staged file name for partition index.
func FileName(prefix string, index int, extension string) string {
	return fmt.Sprintf("%s%s%d%s", prefix, Separator, index, extension)
}

// RunPrefix is the leading part of every file name built from prefix.
func RunPrefix(prefix string) string {
	return prefix + Separator
}
