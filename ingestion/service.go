package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabfab/ragchat/rag"
)

// Stats summarizes one ingest run.
type Stats struct {
	Files  int
	Chunks int
}

// Service walks document trees and feeds their text to the pipeline. A
// failing file is logged and skipped; it never aborts the run.
type Service struct {
	pipeline *rag.Pipeline
	logger   *zap.Logger
}

func NewService(pipeline *rag.Pipeline, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{pipeline: pipeline, logger: logger}
}

// IngestDirectory ingests every supported document under dir.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (Stats, error) {
	var stats Stats

	if _, err := os.Stat(dir); err != nil {
		return stats, fmt.Errorf("data directory: %w", err)
	}

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || DetectFormat(path) == FormatUnknown {
			return nil
		}
		paths = append(paths, path)
		return nil
	}); err != nil {
		return stats, fmt.Errorf("walk data directory: %w", err)
	}

	if len(paths) == 0 {
		s.logger.Warn("no supported documents found", zap.String("dir", dir))
		return stats, nil
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		n, err := s.IngestFile(ctx, dir, path)
		if err != nil {
			s.logger.Warn("ingest failed",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		stats.Files++
		stats.Chunks += n
	}

	s.logger.Info("ingest complete",
		zap.String("dir", dir),
		zap.Int("files", stats.Files),
		zap.Int("chunks", stats.Chunks))
	return stats, nil
}

// IngestFile extracts one document's text and indexes it. The document is
// identified by its path relative to root, so moving the root directory
// does not re-key the collection.
func (s *Service) IngestFile(ctx context.Context, root, path string) (int, error) {
	text, err := ExtractText(path)
	if err != nil {
		return 0, err
	}

	relPath := path
	if root != "" {
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			relPath = rel
		}
	}
	relPath = filepath.ToSlash(relPath)

	return s.pipeline.Ingest(ctx, rag.Document{
		ID:     documentID(relPath),
		Source: relPath,
		Text:   text,
	})
}

// documentID is deterministic per source path. Re-ingesting a file yields
// the same document and chunk IDs, so stores replace instead of duplicate.
func documentID(relPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragchat://"+relPath)).String()
}
