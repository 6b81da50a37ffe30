package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"tomorrow/internal/types"
)

// RetentionBatchLimit is the maximum number of audit records archived per
// fetch-archive-delete cycle, keeping single archive files and delete
// statements bounded.
const RetentionBatchLimit = 500

// DefaultRetentionDays is the audit retention window when none is configured.
const DefaultRetentionDays = 90

// AttemptLogStore defines the audit log operations needed by the retention
// job.
type AttemptLogStore interface {
	// ListBefore returns audit records created before cutoff, oldest first.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.DeliveryAttemptRecord, error)

	// DeleteBefore removes audit records created before cutoff and returns
	// the number of rows deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionResult summarizes one retention run.
type RetentionResult struct {
	Archived     int      `json:"archived"`
	Deleted      int64    `json:"deleted"`
	ArchiveFiles []string `json:"archive_files,omitempty"`
}

// RetentionJob archives expired audit records as gzip-compressed JSON lines
// and deletes them. With no archive directory configured the job is
// delete-only.
type RetentionJob struct {
	logs       AttemptLogStore
	archiveDir string
	logger     *slog.Logger
}

// NewRetentionJob creates a RetentionJob. archiveDir may be empty to disable
// archiving.
func NewRetentionJob(logs AttemptLogStore, archiveDir string, logger *slog.Logger) *RetentionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionJob{
		logs:       logs,
		archiveDir: archiveDir,
		logger:     logger,
	}
}

// Run archives and deletes audit records older than retentionDays relative
// to now. Records are processed oldest first in bounded batches; each batch
// is deleted only after its archive file is fully written, so a failure
// mid-run never loses unarchived records.
func (j *RetentionJob) Run(ctx context.Context, now time.Time, retentionDays int) (*RetentionResult, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	result := &RetentionResult{}

	if j.archiveDir == "" {
		deleted, err := j.logs.DeleteBefore(ctx, cutoff)
		if err != nil {
			return result, fmt.Errorf("deleting expired audit records: %w", err)
		}
		result.Deleted = deleted
		if deleted > 0 {
			j.logger.InfoContext(ctx, "purged expired audit records",
				"deleted", deleted,
				"cutoff", cutoff.Format(time.RFC3339),
			)
		}
		return result, nil
	}

	if err := os.MkdirAll(j.archiveDir, 0o755); err != nil {
		return result, fmt.Errorf("creating archive directory %s: %w", j.archiveDir, err)
	}

	for {
		records, err := j.logs.ListBefore(ctx, cutoff, RetentionBatchLimit)
		if err != nil {
			return result, fmt.Errorf("listing expired audit records: %w", err)
		}
		if len(records) == 0 {
			break
		}

		path, err := j.writeArchive(records)
		if err != nil {
			return result, err
		}

		// Records are ordered oldest first, so deleting up to just past the
		// last archived timestamp removes exactly this batch.
		batchEnd := records[len(records)-1].CreatedAt.Add(time.Nanosecond)
		deleted, err := j.logs.DeleteBefore(ctx, batchEnd)
		if err != nil {
			return result, fmt.Errorf("deleting archived audit records: %w", err)
		}

		result.Archived += len(records)
		result.Deleted += deleted
		result.ArchiveFiles = append(result.ArchiveFiles, path)

		j.logger.InfoContext(ctx, "archived audit record batch",
			"batch_size", len(records),
			"archive_file", path,
			"total_archived", result.Archived,
		)

		if len(records) < RetentionBatchLimit {
			break
		}
	}

	return result, nil
}

// writeArchive serializes one batch to a gzip-compressed JSONL file and
// returns its path.
func (j *RetentionJob) writeArchive(records []*types.DeliveryAttemptRecord) (string, error) {
	name := fmt.Sprintf("delivery_logs_%s_%d.jsonl.gz",
		records[0].CreatedAt.Format("20060102"), time.Now().UnixNano())
	path := filepath.Join(j.archiveDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating archive file %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			gz.Close()
			return "", fmt.Errorf("encoding audit record %s: %w", rec.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("flushing archive file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing archive file %s: %w", path, err)
	}

	return path, nil
}
