// Package storage archives execution reports to blob storage.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/wehubfusion/Digest/pkg/report"
)

// Archive stores one JSON report per run under digests/<date>/<executionID>.json.
type Archive struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewArchive creates an archive over store.
func NewArchive(store BlobStore, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{store: store, prefix: "digests", logger: logger}
}

// BlobPath is where the report of a run is written.
func (a *Archive) BlobPath(date, executionID string) string {
	return path.Join(a.prefix, date, executionID+".json")
}

// Archive uploads the report and returns its URL.
func (a *Archive) Archive(ctx context.Context, rep *report.Report, date string) (string, error) {
	if rep == nil {
		return "", fmt.Errorf("archive: nil report")
	}
	if date == "" {
		return "", fmt.Errorf("archive: date is required")
	}

	data, err := rep.JSON()
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	blobPath := a.BlobPath(date, rep.ExecutionID)
	url, err := a.store.Upload(ctx, blobPath, data, map[string]string{
		"date":          date,
		"execution_id":  rep.ExecutionID,
		"success_count": strconv.Itoa(rep.Summary.SuccessCount),
		"error_count":   strconv.Itoa(rep.Summary.ErrorCount),
	})
	if err != nil {
		return "", fmt.Errorf("archive report %s: %w", rep.ExecutionID, err)
	}

	a.logger.Info("Archived execution report",
		zap.String("execution_id", rep.ExecutionID),
		zap.String("blob_path", blobPath),
		zap.Int("size_bytes", len(data)))
	return url, nil
}

// Load reads an archived report back.
func (a *Archive) Load(ctx context.Context, reference string) (*report.Report, error) {
	data, err := a.store.Download(ctx, reference)
	if err != nil {
		return nil, err
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}
