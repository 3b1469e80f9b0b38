package planner

import (
	"strings"
	"testing"
)

const mib = 1024 * 1024

func TestNumChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		target    int64
		minChunks int
		want      int
	}{
		{"clamped to minimum", 600 * mib, 128 * mib, 8, 8},
		{"size driven", 2048 * mib, 128 * mib, 8, 16},
		{"rounds up", 128*mib*10 + 1, 128 * mib, 8, 11},
		{"empty table", 0, 128 * mib, 8, 8},
		{"defaults", 10, 0, 0, DefaultMinChunks},
		{"custom minimum", 1, 128 * mib, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NumChunks(tt.size, tt.target, tt.minChunks); got != tt.want {
				t.Fatalf("NumChunks() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPlanOneMillionRows(t *testing.T) {
	plan := New(1_000_000, 600*mib, Options{FilePrefix: "trade_trans", Extension: ".csv.gz"})

	if plan.NumChunks != 8 {
		t.Fatalf("expected 8 chunks, got %d", plan.NumChunks)
	}
	if plan.ChunkSize != 125_000 {
		t.Fatalf("expected chunk size 125000, got %d", plan.ChunkSize)
	}
	if len(plan.Partitions) != 8 {
		t.Fatalf("expected 8 partitions, got %d", len(plan.Partitions))
	}
	for i, p := range plan.Partitions {
		if p.Start != i*125_000 || p.End != (i+1)*125_000 {
			t.Errorf("partition %d: got [%d,%d)", i, p.Start, p.End)
		}
	}
	if plan.Partitions[7].FileName != "trade_trans-7.csv.gz" {
		t.Errorf("unexpected file name %s", plan.Partitions[7].FileName)
	}
}

func TestPlanKeepsTrailingRows(t *testing.T) {
	plan := New(10, 100, Options{FilePrefix: "p"})

	if plan.NumChunks != 8 || plan.ChunkSize != 1 {
		t.Fatalf("expected 8 chunks of 1 row, got %d of %d", plan.NumChunks, plan.ChunkSize)
	}
	if len(plan.Partitions) != 9 {
		t.Fatalf("expected 9 partitions, got %d", len(plan.Partitions))
	}
	for i := 0; i < 8; i++ {
		p := plan.Partitions[i]
		if p.Start != i || p.End != i+1 {
			t.Errorf("partition %d: got [%d,%d)", i, p.Start, p.End)
		}
	}
	last := plan.Partitions[8]
	if last.Start != 8 || last.End != 10 {
		t.Fatalf("expected final partition [8,10), got [%d,%d)", last.Start, last.End)
	}
	if last.Index != 8 || last.FileName != "p-8" {
		t.Fatalf("unexpected final partition %+v", last)
	}
}

func TestPlanSmallTables(t *testing.T) {
	t.Run("no rows", func(t *testing.T) {
		plan := New(0, 0, Options{})
		if len(plan.Partitions) != 0 {
			t.Fatalf("expected no partitions, got %d", len(plan.Partitions))
		}
		if plan.NumChunks < DefaultMinChunks {
			t.Fatalf("chunk count fell below minimum: %d", plan.NumChunks)
		}
	})

	t.Run("fewer rows than chunks", func(t *testing.T) {
		plan := New(5, 40, Options{})
		if len(plan.Partitions) != 1 {
			t.Fatalf("expected 1 partition, got %d", len(plan.Partitions))
		}
		if p := plan.Partitions[0]; p.Start != 0 || p.End != 5 {
			t.Fatalf("expected [0,5), got [%d,%d)", p.Start, p.End)
		}
	})
}

func TestPlanCoverage(t *testing.T) {
	sizes := []int64{0, 1, 128 * mib, 129 * mib, 5000 * mib}
	for rows := 0; rows <= 300; rows++ {
		for _, size := range sizes {
			for _, minChunks := range []int{1, 3, 8} {
				plan := New(rows, size, Options{MinChunks: minChunks})
				if plan.NumChunks < minChunks {
					t.Fatalf("rows=%d size=%d: %d chunks below minimum %d", rows, size, plan.NumChunks, minChunks)
				}

				next, sum := 0, 0
				for i, p := range plan.Partitions {
					if p.Index != i {
						t.Fatalf("rows=%d: partition %d has index %d", rows, i, p.Index)
					}
					if p.Start != next {
						t.Fatalf("rows=%d size=%d: gap or overlap at partition %d ([%d,%d), expected start %d)",
							rows, size, i, p.Start, p.End, next)
					}
					if p.Rows() < 1 {
						t.Fatalf("rows=%d size=%d: empty partition %d", rows, size, i)
					}
					next = p.End
					sum += p.Rows()
				}
				if sum != rows || next != rows {
					t.Fatalf("rows=%d size=%d min=%d: partitions cover %d rows ending at %d",
						rows, size, minChunks, sum, next)
				}
			}
		}
	}
}

func TestRunPrefixIsNotSharedWithLongerPrefixes(t *testing.T) {
	prefix := RunPrefix("trades")
	if prefix != "trades-" {
		t.Fatalf("unexpected run prefix %s", prefix)
	}

	for _, name := range []string{FileName("trades", 0, ".csv.gz"), FileName("trades", 12, ".jsonl")} {
		if !strings.HasPrefix(name, prefix) {
			t.Errorf("%s should match %s", name, prefix)
		}
	}
	for _, name := range []string{FileName("trades_daily", 0, ".csv.gz"), FileName("trades_eu", 3, ".csv.gz")} {
		if strings.HasPrefix(name, prefix) {
			t.Errorf("%s must not match %s", name, prefix)
		}
	}
}
