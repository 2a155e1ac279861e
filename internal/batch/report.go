package batch

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"imagepipe/internal/services"
)

// FileRecord is the outcome of one source file.
type FileRecord struct {
	File           string                      `json:"file"`
	OriginalSize   int64                       `json:"original_size"`
	ChosenPreset   string                      `json:"chosen_preset"`
	PerFormatSizes map[services.Format]int64   `json:"per_format_sizes"`
	SavingsPercent map[services.Format]float64 `json:"savings_percent"`
	Error          *string                     `json:"error"`

	// Set only when derivatives are stored.
	SourceID         string                     `json:"source_id,omitempty"`
	Outputs          map[services.Format]string `json:"outputs,omitempty"`
	ThumbnailOutputs map[services.Format]string `json:"thumbnail_outputs,omitempty"`

	smallest int64
}

// Failed reports whether the file could not be optimized.
func (r FileRecord) Failed() bool {
	return r.Error != nil
}

func (r *FileRecord) fail(err error) {
	msg := err.Error()
	r.Error = &msg
}

// Report summarizes a batch run. It is built by a single consumer and not
// modified after Run returns.
type Report struct {
	FilesScanned        int           `json:"files_scanned"`
	FilesSucceeded      int           `json:"files_succeeded"`
	FilesFailed         int           `json:"files_failed"`
	TotalBytesBefore    int64         `json:"total_bytes_before"`
	TotalBytesAfter     int64         `json:"total_bytes_after"`
	TotalSavingsPercent float64       `json:"total_savings_percent"`
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"-"`
	DurationMS          int64         `json:"duration_ms"`
	Records             []FileRecord  `json:"records"`
}

func newReport(start time.Time) *Report {
	return &Report{StartedAt: start, Records: []FileRecord{}}
}

// add folds one record into the totals. Only succeeded files count towards
// the byte totals.
func (r *Report) add(rec FileRecord) {
	r.FilesScanned++
	if rec.Failed() {
		r.FilesFailed++
	} else {
		r.FilesSucceeded++
		r.TotalBytesBefore += rec.OriginalSize
		r.TotalBytesAfter += rec.smallest
	}
	r.Records = append(r.Records, rec)
}

func (r *Report) finalize(now time.Time) {
	sort.Slice(r.Records, func(i, j int) bool { return r.Records[i].File < r.Records[j].File })
	r.TotalSavingsPercent = savings(r.TotalBytesBefore, r.TotalBytesAfter)
	r.Duration = now.Sub(r.StartedAt)
	r.DurationMS = r.Duration.Milliseconds()
}

// Summary is a one-line human readable digest.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d scanned, %d ok, %d failed, %s -> %s (%.2f%% saved) in %s",
		r.FilesScanned, r.FilesSucceeded, r.FilesFailed,
		humanize.Bytes(uint64(r.TotalBytesBefore)), humanize.Bytes(uint64(r.TotalBytesAfter)),
		r.TotalSavingsPercent, r.Duration.Round(time.Millisecond))
}

// WriteJSON persists the report at path. The file is replaced atomically.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return fmt.Errorf("failed to create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod report: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// savings is the percentage saved going from before to after, rounded to two
// decimals. Negative values mean the output grew.
func savings(before, after int64) float64 {
	if before <= 0 {
		return 0
	}
	pct := float64(before-after) / float64(before) * 100
	return math.Round(pct*100) / 100
}
